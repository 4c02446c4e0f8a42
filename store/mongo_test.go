package store

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"sknet/database"
	"sknet/models"
)

// Runs against a real replica set only when MONGODB_TEST_URI is set.
func openMongoTestStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := database.ConnectMongo(ctx, uri, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s := NewMongoStore(client, "sknet_test_"+strconv.FormatInt(time.Now().UnixNano(), 36))
	if err := database.EnsureIndexes(ctx, s.db); err != nil {
		t.Fatalf("indexes: %v", err)
	}
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = database.DisconnectMongo(client)
	})
	return s
}

func TestMongoClaimLegAndCounts(t *testing.T) {
	s := openMongoTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"root", "a"} {
		if err := s.CreateStats(ctx, &models.UserStats{UserID: id, CurrentRank: models.InitialRank}); err != nil {
			t.Fatalf("stats: %v", err)
		}
	}
	if err := s.CreateTreeNode(ctx, &models.TreeNode{UserID: "root"}); err != nil {
		t.Fatalf("node: %v", err)
	}

	err := s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.ClaimLeg(ctx, "root", models.LegLeft, "a"); err != nil {
			return err
		}
		return s.IncrementLegCounts(ctx, []string{"root"}, nil, time.Now())
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := s.ClaimLeg(ctx, "root", models.LegLeft, "b"); !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}

	err = s.Transaction(ctx, func(ctx context.Context) error {
		return s.IncrementLegCounts(ctx, []string{"root", "ghost"}, nil, time.Now())
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing stats document: want ErrNotFound, got %v", err)
	}

	st, err := s.GetStats(ctx, "root")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.LeftCount != 1 || st.TotalCount != 1 {
		t.Errorf("root stats = %+v", st)
	}
}

func TestMongoEventKeyUnique(t *testing.T) {
	s := openMongoTestStore(t)
	ctx := context.Background()
	e := &models.Event{Key: "k1", Type: "test", CreatedAt: time.Now()}
	if err := s.CreateEvent(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateEvent(ctx, e); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}
