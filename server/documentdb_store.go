package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// DocumentDBStore implements the RecordStore interface using DocumentDB or MongoDB
type DocumentDBStore struct {
	client  *mongo.Client
	objects *mongo.Collection
	now     func() time.Time
}

// storedObjectItem represents a stored object document. Field names match
// the documents written by earlier versions of the service.
type storedObjectItem struct {
	ID          primitive.ObjectID `bson:"_id"`
	Title       string             `bson:"title"`
	Description string             `bson:"description,omitempty"`
	ImageURL    string             `bson:"imageUrl"`
	StorageKey  string             `bson:"s3Key"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

func (item *storedObjectItem) toObject() *StoredObject {
	return &StoredObject{
		ID:          item.ID.Hex(),
		Title:       item.Title,
		Description: item.Description,
		ImageURL:    item.ImageURL,
		StorageKey:  item.StorageKey,
		CreatedAt:   item.CreatedAt.UTC(),
	}
}

// getPasswordFromSecretsManager retrieves the password from AWS Secrets Manager
func getPasswordFromSecretsManager(svc secretsmanageriface.SecretsManagerAPI, secretArn string) (string, error) {
	result, err := svc.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretArn),
	})
	if err != nil {
		return "", newError(ErrConfiguration, err, "failed to get secret value")
	}

	if result.SecretString == nil {
		return "", newError(ErrConfiguration, nil, "secret %s has no string value", secretArn)
	}

	return *result.SecretString, nil
}

// createTLSConfig builds a TLS configuration trusting the given CA bundle
func createTLSConfig(config DocumentDBConfig, logger logrus.FieldLogger) (*tls.Config, error) {
	if config.SkipTLSVerify {
		logger.Warn("skipping TLS certificate verification for the record store")
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // opt-in for local testing
	}

	caCert, err := os.ReadFile(config.TLSCAFile)
	if err != nil {
		return nil, newError(ErrConfiguration, err, "failed to read CA certificate from %s", config.TLSCAFile)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, newError(ErrConfiguration, nil, "failed to parse CA certificate %s", config.TLSCAFile)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// clientOptions builds the driver options for config
func clientOptions(sess *session.Session, config DocumentDBConfig, logger logrus.FieldLogger) (*options.ClientOptions, error) {
	cs, err := connstring.ParseAndValidate(config.ConnectionString)
	if err != nil {
		return nil, newError(ErrConfiguration, err, "invalid database connection string")
	}

	opts := options.Client().ApplyURI(config.ConnectionString)

	// The password, when kept in Secrets Manager, is set apart from the URI
	if config.PasswordSecretArn != "" {
		password, err := getPasswordFromSecretsManager(secretsmanager.New(sess), config.PasswordSecretArn)
		if err != nil {
			return nil, err
		}
		credential := options.Credential{
			AuthMechanism: config.AuthMechanism,
			AuthSource:    cs.AuthSource,
			Username:      cs.Username,
			Password:      password,
		}
		if credential.AuthSource == "" {
			credential.AuthSource = "admin"
		}
		opts.SetAuth(credential)
	}

	if config.TLSCAFile != "" || config.SkipTLSVerify {
		tlsConfig, err := createTLSConfig(config, logger)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// NewDocumentDBStore connects to the database and returns a store over the configured collection
func NewDocumentDBStore(ctx context.Context, sess *session.Session, config DocumentDBConfig, logger logrus.FieldLogger) (*DocumentDBStore, error) {
	opts, err := clientOptions(sess, config, logger)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"database":   config.DatabaseName,
		"collection": config.Collection,
	}).Info("connecting to record store")

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, newError(ErrPersistence, err, "failed to connect to record store")
	}

	// Test the connection with a timeout
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, newError(ErrPersistence, err, "failed to ping record store")
	}

	objects := client.Database(config.DatabaseName).Collection(config.Collection)

	// Newest-first listing sorts on createdAt
	if _, err := objects.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	}); err != nil {
		logger.WithError(err).Warn("failed to create createdAt index")
	}

	return &DocumentDBStore{
		client:  client,
		objects: objects,
		now:     time.Now,
	}, nil
}

// validateNewObject enforces the record constraints before insert
func validateNewObject(object *NewObject) error {
	switch {
	case object == nil:
		return errors.New("record is nil")
	case strings.TrimSpace(object.Title) == "":
		return errors.New("title is required")
	case object.ImageURL == "":
		return errors.New("imageUrl is required")
	case object.StorageKey == "":
		return errors.New("storage key is required")
	}
	return nil
}

// Insert creates a new record
func (s *DocumentDBStore) Insert(ctx context.Context, object *NewObject) (*StoredObject, error) {
	if err := validateNewObject(object); err != nil {
		return nil, newError(ErrPersistence, err, "invalid record")
	}

	// BSON dates carry millisecond precision
	item := storedObjectItem{
		ID:          primitive.NewObjectID(),
		Title:       object.Title,
		Description: object.Description,
		ImageURL:    object.ImageURL,
		StorageKey:  object.StorageKey,
		CreatedAt:   s.clock().UTC().Truncate(time.Millisecond),
	}

	if _, err := s.objects.InsertOne(ctx, item); err != nil {
		return nil, newError(ErrPersistence, err, "failed to insert record")
	}

	return item.toObject(), nil
}

// ListAll lists every record, newest first
func (s *DocumentDBStore) ListAll(ctx context.Context) ([]*StoredObject, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "createdAt", Value: -1},
		{Key: "_id", Value: -1},
	})

	cursor, err := s.objects.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, newError(ErrPersistence, err, "failed to list records")
	}
	defer cursor.Close(ctx)

	objects := make([]*StoredObject, 0)
	for cursor.Next(ctx) {
		var item storedObjectItem
		if err := cursor.Decode(&item); err != nil {
			return nil, newError(ErrPersistence, err, "failed to decode record")
		}
		objects = append(objects, item.toObject())
	}

	if err := cursor.Err(); err != nil {
		return nil, newError(ErrPersistence, err, "cursor error")
	}

	return objects, nil
}

// GetByID retrieves a record by id
func (s *DocumentDBStore) GetByID(ctx context.Context, id string) (*StoredObject, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFound(id)
	}

	var item storedObjectItem
	err = s.objects.FindOne(ctx, bson.M{"_id": oid}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(id)
		}
		return nil, newError(ErrPersistence, err, "failed to get record")
	}

	return item.toObject(), nil
}

// DeleteByID deletes a record and returns it
func (s *DocumentDBStore) DeleteByID(ctx context.Context, id string) (*StoredObject, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, notFound(id)
	}

	var item storedObjectItem
	err = s.objects.FindOneAndDelete(ctx, bson.M{"_id": oid}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(id)
		}
		return nil, newError(ErrPersistence, err, "failed to delete record")
	}

	return item.toObject(), nil
}

// Ping checks that the database is reachable
func (s *DocumentDBStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return newError(ErrPersistence, err, "record store unreachable")
	}
	return nil
}

// Close closes the database connection
func (s *DocumentDBStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *DocumentDBStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func notFound(id string) *Error {
	return newError(ErrNotFound, nil, "object with ID %s not found", id)
}
