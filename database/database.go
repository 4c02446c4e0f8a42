package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection names used by the Mongo store.
const (
	MembersColl       = "users"
	TreeNodesColl     = "treeNodes"
	StatsColl         = "userStats"
	RewardTiersColl   = "rewardTiers"
	UserRewardsColl   = "userRewards"
	PinsColl          = "pins"
	PaymentsColl      = "payments"
	WithdrawalsColl   = "withdrawals"
	EventsColl        = "events"
	PushSubsColl      = "push_subscriptions"
	connectAttempts   = 3
	connectRetryDelay = 2 * time.Second
)

// ConnectMongo dials uri and pings it, retrying a few times before giving up.
// Transactions require the server to run as a replica set.
func ConnectMongo(ctx context.Context, uri string, log *zap.Logger) (*mongo.Client, error) {
	if uri == "" {
		log.Warn("MONGODB_URI not set, using default localhost")
		uri = "mongodb://127.0.0.1:27017/?replicaSet=rs0"
	}

	var lastErr error
	for i := 1; i <= connectAttempts; i++ {
		client, err := connectOnce(ctx, uri)
		if err == nil {
			log.Info("connected to MongoDB")
			return client, nil
		}
		lastErr = err
		log.Warn("MongoDB connection attempt failed", zap.Int("attempt", i), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
	return nil, fmt.Errorf("connect mongo: %w", lastErr)
}

func connectOnce(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

func DisconnectMongo(client *mongo.Client) error {
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and lookup indexes the store relies on.
// Uniqueness of pins, events, tree nodes and rewards comes from their _id.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	unique := options.Index().SetUnique(true)
	specs := map[string][]mongo.IndexModel{
		MembersColl: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		UserRewardsColl: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "tierOrder", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		PinsColl: {
			{Keys: bson.D{{Key: "createdBy", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
		},
		PaymentsColl: {
			{Keys: bson.D{{Key: "trxId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		WithdrawalsColl: {
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
	}

	for coll, models := range specs {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}
