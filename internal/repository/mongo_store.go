package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"reward-bot/internal/model"
)

type userDoc struct {
	UserID        int64     `bson:"user_id"`
	Username      string    `bson:"username,omitempty"`
	LastSeen      time.Time `bson:"last_seen"`
	TotalRequests int64     `bson:"total_requests"`
	LastReport    bson.M    `bson:"last_report"`
}

type reportDoc struct {
	ID        string    `bson:"_id"`
	UserID    int64     `bson:"user_id"`
	RollNo    string    `bson:"roll_no"`
	Report    bson.M    `bson:"report"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoStore is the document Store backend.
type MongoStore struct {
	client  *mongo.Client
	users   *mongo.Collection
	reports *mongo.Collection
}

// NewMongoStore connects, pings and creates the indexes the store relies on.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:  client,
		users:   db.Collection("users"),
		reports: db.Collection("reports"),
	}

	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create users index: %w", err)
	}
	if _, err := s.reports.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "_id", Value: -1}},
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create reports index: %w", err)
	}

	return s, nil
}

func (s *MongoStore) EnsureUser(ctx context.Context, id int64, handle string, seenAt time.Time) error {
	onInsert := bson.M{
		"last_seen":      normalizeTime(seenAt),
		"total_requests": int64(0),
		"last_report":    nil,
	}
	update := bson.M{"$setOnInsert": onInsert}
	if handle != "" {
		update["$set"] = bson.M{"username": handle}
	} else {
		onInsert["username"] = ""
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"user_id": id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return unavailable("ensure user", err)
	}
	return nil
}

// RecordSuccessfulFetch inserts the report, then upserts the user. The two
// writes are not transactional; a failure between them leaves the snapshot
// behind the history.
func (s *MongoStore) RecordSuccessfulFetch(ctx context.Context, userID int64, queryKey string, payload model.Report, seenAt time.Time) (string, error) {
	seenAt = normalizeTime(seenAt)
	snapshot := bson.M(payload.Clone())
	doc := reportDoc{
		ID:        ulid.Make().String(),
		UserID:    userID,
		RollNo:    queryKey,
		Report:    snapshot,
		CreatedAt: seenAt,
	}
	if _, err := s.reports.InsertOne(ctx, doc); err != nil {
		return "", unavailable("insert report", err)
	}

	update := bson.M{
		"$set": bson.M{"last_report": snapshot},
		"$max": bson.M{"last_seen": seenAt},
		"$inc": bson.M{"total_requests": int64(1)},
	}
	if _, err := s.users.UpdateOne(ctx, bson.M{"user_id": userID}, update, options.Update().SetUpsert(true)); err != nil {
		return "", unavailable("update user", err)
	}
	return doc.ID, nil
}

func (s *MongoStore) GetLastReport(ctx context.Context, userID int64) (model.Report, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, nil
	case err != nil:
		return nil, unavailable("get last report", err)
	}
	if len(doc.LastReport) == 0 {
		return nil, nil
	}
	return model.Report(doc.LastReport), nil
}

func (s *MongoStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	opts := options.Find().
		SetProjection(bson.M{"user_id": 1}).
		SetSort(bson.D{{Key: "user_id", Value: 1}})
	cur, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, unavailable("list user ids", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("list user ids", err)
	}
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.UserID)
	}
	return ids, nil
}

func (s *MongoStore) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, unavailable("count users", err)
	}
	return n, nil
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]model.User, error) {
	cur, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, unavailable("list users", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("list users", err)
	}
	users := make([]model.User, 0, len(docs))
	for _, d := range docs {
		user := model.User{
			ID:            d.UserID,
			Username:      d.Username,
			LastSeen:      d.LastSeen,
			TotalRequests: d.TotalRequests,
		}
		if len(d.LastReport) > 0 {
			user.LastReport = model.Report(d.LastReport)
		}
		users = append(users, user)
	}
	return users, nil
}

var _ HistoryStore = (*MongoStore)(nil)

// ListReports returns the user's report history, newest first.
func (s *MongoStore) ListReports(ctx context.Context, userID int64, limit int) ([]model.ReportRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.reports.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, unavailable("list reports", err)
	}
	var docs []reportDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("list reports", err)
	}
	records := make([]model.ReportRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, model.ReportRecord{
			ID:        d.ID,
			UserID:    d.UserID,
			RollNo:    d.RollNo,
			Report:    model.Report(d.Report),
			CreatedAt: d.CreatedAt,
		})
	}
	return records, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
