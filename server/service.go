package server

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// CreateObjectInput carries a validated create request
type CreateObjectInput struct {
	Title            string
	Description      string
	ImageData        []byte
	ImageContentType string
	ImageFilename    string
}

// ObjectService orchestrates the record store and the blob store
type ObjectService struct {
	records RecordStore
	blobs   BlobStore
	logger  logrus.FieldLogger
	metrics *Metrics
}

// NewObjectService creates an object service. metrics may be nil.
func NewObjectService(records RecordStore, blobs BlobStore, logger logrus.FieldLogger, metrics *Metrics) *ObjectService {
	return &ObjectService{
		records: records,
		blobs:   blobs,
		logger:  logger.WithField("component", "objects"),
		metrics: metrics,
	}
}

// CreateObject uploads the image and inserts the record that references it.
//
// A failed insert leaves the uploaded blob in storage; it is not deleted.
func (s *ObjectService) CreateObject(ctx context.Context, in CreateObjectInput) (*StoredObject, error) {
	if len(in.ImageData) == 0 {
		s.logger.Warn("create attempt without image")
		return nil, newError(ErrValidation, nil, "image required")
	}
	if !strings.HasPrefix(in.ImageContentType, "image/") {
		s.logger.WithField("content_type", in.ImageContentType).Warn("invalid image content type")
		return nil, newError(ErrValidation, nil, "invalid content type")
	}

	log := s.logger.WithFields(logrus.Fields{
		"filename": in.ImageFilename,
		"size":     len(in.ImageData),
	})
	log.Info("uploading image")

	upload, err := s.blobs.Upload(ctx, in.ImageData, in.ImageContentType, in.ImageFilename)
	if err != nil {
		log.WithError(err).Error("image upload failed")
		return nil, newError(ErrUpstream, err, "failed to create object - please try again later")
	}

	log = log.WithField("storage_key", upload.Key)
	log.WithField("url", upload.URL).Info("image uploaded")

	created, err := s.records.Insert(ctx, &NewObject{
		Title:       in.Title,
		Description: in.Description,
		ImageURL:    upload.URL,
		StorageKey:  upload.Key,
	})
	if err != nil {
		log.WithError(err).Error("record insert failed, uploaded blob is orphaned")
		s.countOrphan(orphanOnCreate)
		return nil, newError(ErrUpstream, err, "failed to create object - please try again later")
	}

	log.WithField("id", created.ID).Debug("object created")
	if s.metrics != nil {
		s.metrics.objectsCreated.Inc()
	}

	return created, nil
}

// ListObjects returns all objects, newest first
func (s *ObjectService) ListObjects(ctx context.Context) ([]*StoredObject, error) {
	objects, err := s.records.ListAll(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to list objects")
		return nil, newError(ErrUpstream, err, "failed to list objects")
	}
	return objects, nil
}

// GetObject returns one object by id
func (s *ObjectService) GetObject(ctx context.Context, id string) (*StoredObject, error) {
	object, err := s.records.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		s.logger.WithError(err).WithField("id", id).Error("failed to get object")
		return nil, newError(ErrUpstream, err, "failed to get object")
	}

	return object, nil
}

// DeleteObject deletes the record and then makes a best-effort attempt to
// delete its blob. Once the record is gone the call succeeds, whatever
// happens to the blob.
func (s *ObjectService) DeleteObject(ctx context.Context, id string) (*DeleteResult, error) {
	deleted, err := s.records.DeleteByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		s.logger.WithError(err).WithField("id", id).Error("failed to delete object")
		return nil, newError(ErrUpstream, err, "failed to delete object")
	}

	log := s.logger.WithField("id", id)
	if s.metrics != nil {
		s.metrics.objectsDeleted.Inc()
	}

	if deleted.StorageKey != "" {
		log = log.WithField("storage_key", deleted.StorageKey)
		if err := s.blobs.Delete(ctx, deleted.StorageKey); err != nil {
			log.WithError(err).Warn("failed to delete blob, leaving it orphaned")
			s.countOrphan(orphanOnDelete)
		} else {
			log.Info("blob deleted")
		}
	}

	return &DeleteResult{Deleted: true}, nil
}

func (s *ObjectService) countOrphan(reason string) {
	if s.metrics != nil {
		s.metrics.orphanedBlobs.WithLabelValues(reason).Inc()
	}
}
