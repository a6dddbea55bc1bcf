package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/seven7-ai/mpesa-gobackend/internal/models"
)

// RecordSink receives normalized notification records. The orchestrator
// emits at-least-once: the same checkout id can arrive from both the push
// callback and a later status query, so implementations must deduplicate
// by checkout request id.
type RecordSink interface {
	SaveNotification(ctx context.Context, record models.NotificationRecord, callbackType models.CallbackType) error
}

// MongoStore persists notification records in the transactions
// collection, keyed by checkout request id.
type MongoStore struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

func NewMongoStore(db *mongo.Database, logger *slog.Logger) *MongoStore {
	return &MongoStore{
		collection: db.Collection("transactions"),
		logger:     logger.With(slog.String("component", "store")),
	}
}

// EnsureIndexes creates the lookup indexes for the transactions collection.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{Keys: bson.M{"checkout_request_id": 1}},
		{Keys: bson.M{"merchant_request_id": 1}},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// SaveNotification upserts a record by checkout request id, collapsing
// redeliveries and push-vs-status double reports into one document.
// Records without a checkout id cannot be deduplicated and are inserted
// as-is.
func (s *MongoStore) SaveNotification(ctx context.Context, record models.NotificationRecord, callbackType models.CallbackType) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc := models.StoredNotification{
		NotificationRecord: record,
		CallbackType:       callbackType,
		UpdatedAt:          time.Now().UTC(),
	}

	if record.CheckoutRequestID == "" {
		if _, err := s.collection.InsertOne(ctx, doc); err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		return nil
	}

	filter := bson.M{"checkout_request_id": record.CheckoutRequestID}
	update := bson.M{"$set": doc}
	if _, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert notification %s: %w", record.CheckoutRequestID, err)
	}

	s.logger.Info("notification stored",
		"checkout_request_id", record.CheckoutRequestID,
		"callback_type", string(callbackType),
		"succeeded", record.Succeeded,
	)
	return nil
}

// GetNotification fetches the stored record for a checkout request id.
func (s *MongoStore) GetNotification(ctx context.Context, checkoutRequestID string) (*models.StoredNotification, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc models.StoredNotification
	err := s.collection.FindOne(ctx, bson.M{"checkout_request_id": checkoutRequestID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("notification not found")
		}
		return nil, fmt.Errorf("failed to fetch notification: %w", err)
	}
	return &doc, nil
}

// ListNotifications returns the most recently updated records.
func (s *MongoStore) ListNotifications(ctx context.Context, limit int64) ([]models.StoredNotification, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}).SetLimit(limit)
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	notifications := []models.StoredNotification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return notifications, nil
}
