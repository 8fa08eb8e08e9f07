package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/uuid"
)

// S3BlobStore implements the BlobStore interface using AWS S3
type S3BlobStore struct {
	s3Client   s3iface.S3API
	uploader   s3manageriface.UploaderAPI
	bucketName string
	region     string
	endpoint   string
	now        func() time.Time
}

// NewS3BlobStore creates a new S3 blob store. An empty bucket name is
// accepted; uploads then fail with ErrConfiguration and deletes are no-ops.
func NewS3BlobStore(sess *session.Session, region string, config S3Config) *S3BlobStore {
	// The region is handed to the client as configured, even when empty
	awsConfig := &aws.Config{Region: aws.String(region)}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	} else if config.ForcePathStyle {
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	client := s3.New(sess, awsConfig)
	return &S3BlobStore{
		s3Client:   client,
		uploader:   s3manager.NewUploaderWithClient(client),
		bucketName: config.BucketName,
		region:     region,
		endpoint:   strings.TrimRight(config.Endpoint, "/"),
		now:        time.Now,
	}
}

// Upload stores data publicly readable under a new key
func (s *S3BlobStore) Upload(ctx context.Context, data []byte, contentType, filename string) (*UploadResult, error) {
	if s.bucketName == "" {
		return nil, newError(ErrConfiguration, nil, "storage bucket is not configured")
	}

	key := s.newKey(filename)

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         aws.String(s3.ObjectCannedACLPublicRead),
	})
	if err != nil {
		return nil, newError(ErrStorageUnavailable, err, "failed to upload blob %s", key)
	}

	return &UploadResult{
		URL: s.publicURL(key),
		Key: key,
	}, nil
}

// Delete removes a blob from S3
func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	if s.bucketName == "" {
		return nil
	}

	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissingKey(err) {
			return nil
		}
		return newError(ErrStorageUnavailable, err, "failed to delete blob %s", key)
	}

	return nil
}

// newKey prefixes the base filename with the upload time and a random tag
func (s *S3BlobStore) newKey(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "image"
	}
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s-%s", s.now().UnixMilli(), tag, name)
}

// publicURL returns the address the blob is served from
func (s *S3BlobStore) publicURL(key string) string {
	escaped := url.PathEscape(key)
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucketName, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucketName, s.region, escaped)
}

// isMissingKey reports whether err means the object does not exist
func isMissingKey(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
