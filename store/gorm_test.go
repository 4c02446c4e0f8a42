package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sknet/database"
	"sknet/models"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return NewGormStore(db)
}

func seedNode(t *testing.T, s *GormStore, id, parent string, leg models.Leg, ancestors []string) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateTreeNode(ctx, &models.TreeNode{
		UserID: id, ParentUserID: parent, Leg: leg, Ancestors: ancestors, Depth: len(ancestors),
	}); err != nil {
		t.Fatalf("create node %s: %v", id, err)
	}
	if err := s.CreateStats(ctx, &models.UserStats{UserID: id, CurrentRank: models.InitialRank}); err != nil {
		t.Fatalf("create stats %s: %v", id, err)
	}
}

func TestClaimLegOnlyOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedNode(t, s, "root", "", "", nil)

	if err := s.ClaimLeg(ctx, "root", models.LegLeft, "a"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.ClaimLeg(ctx, "root", models.LegLeft, "b"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second claim: want ErrConflict, got %v", err)
	}
	if err := s.ClaimLeg(ctx, "missing", models.LegLeft, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing parent: want ErrNotFound, got %v", err)
	}

	n, err := s.GetTreeNode(ctx, "root")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if n.LeftChildID != "a" || n.RightChildID != "" {
		t.Errorf("unexpected children left=%q right=%q", n.LeftChildID, n.RightChildID)
	}
}

func TestAncestorsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	seedNode(t, s, "c", "b", models.LegRight, []string{"root", "a", "b"})

	n, err := s.GetTreeNode(context.Background(), "c")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if len(n.Ancestors) != 3 || n.Ancestors[0] != "root" || n.Ancestors[2] != "b" {
		t.Errorf("ancestors = %v", n.Ancestors)
	}
}

func TestIncrementLegCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedNode(t, s, "root", "", "", nil)
	seedNode(t, s, "a", "root", models.LegLeft, []string{"root"})

	if err := s.IncrementLegCounts(ctx, []string{"root"}, []string{"a"}, time.Now()); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.IncrementLegCounts(ctx, []string{"root", "a"}, nil, time.Now()); err != nil {
		t.Fatalf("increment: %v", err)
	}

	root, _ := s.GetStats(ctx, "root")
	a, _ := s.GetStats(ctx, "a")
	if root.LeftCount != 2 || root.RightCount != 0 || root.TotalCount != 2 {
		t.Errorf("root stats = %+v", root)
	}
	if a.LeftCount != 1 || a.RightCount != 1 || a.TotalCount != 2 {
		t.Errorf("a stats = %+v", a)
	}
}

func TestIncrementLegCountsMissingStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedNode(t, s, "root", "", "", nil)

	err := s.Transaction(ctx, func(ctx context.Context) error {
		return s.IncrementLegCounts(ctx, []string{"root"}, []string{"ghost"}, time.Now())
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	root, _ := s.GetStats(ctx, "root")
	if root.LeftCount != 0 || root.TotalCount != 0 {
		t.Errorf("root stats after rollback = %+v", root)
	}
}

func TestMarkPinUsedOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	pin := &models.Pin{Code: "ABCDEFGHJK12", Status: models.PinUnused, ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.CreatePin(ctx, pin); err != nil {
		t.Fatalf("create pin: %v", err)
	}
	if err := s.CreatePin(ctx, pin); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate pin: want ErrDuplicate, got %v", err)
	}

	if err := s.MarkPinUsed(ctx, pin.Code, "u1", time.Now()); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if err := s.MarkPinUsed(ctx, pin.Code, "u2", time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("second use: want ErrConflict, got %v", err)
	}

	got, _ := s.GetPin(ctx, pin.Code)
	if got.Status != models.PinUsed || got.UsedByUserID != "u1" || got.UsedAt == nil {
		t.Errorf("pin after use = %+v", got)
	}
}

func TestUserRewardUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := &models.UserReward{ID: models.RewardID("u1", 1), UserID: "u1", TierOrder: 1, Status: models.RewardPending}
	if err := s.CreateUserReward(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := *r
	if err := s.CreateUserReward(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	if err := s.MarkRewardPaid(ctx, r.ID, time.Now(), "paid"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := s.MarkRewardPaid(ctx, r.ID, time.Now(), "again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("mark paid twice: want ErrConflict, got %v", err)
	}
}

func TestRaiseRankOnlyUpwards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedNode(t, s, "u1", "", "", nil)

	if ok, err := s.RaiseRank(ctx, "u1", "2 Star", 2, time.Now()); err != nil || !ok {
		t.Fatalf("raise to 2: ok=%v err=%v", ok, err)
	}
	if ok, err := s.RaiseRank(ctx, "u1", "1 Star", 1, time.Now()); err != nil || ok {
		t.Fatalf("lower to 1: ok=%v err=%v", ok, err)
	}
	st, _ := s.GetStats(ctx, "u1")
	if st.CurrentRank != "2 Star" || st.RankOrder != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestReserveWithdrawalNeedsBalance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedNode(t, s, "u1", "", "", nil)

	if err := s.ReserveWithdrawal(ctx, "u1", 100, time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("empty balance: want ErrConflict, got %v", err)
	}
	if err := s.CreditEarnings(ctx, "u1", 500, time.Now()); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := s.ReserveWithdrawal(ctx, "u1", 300, time.Now()); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.ReserveWithdrawal(ctx, "u1", 300, time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("overdraw: want ErrConflict, got %v", err)
	}
	if err := s.ReleaseWithdrawal(ctx, "u1", 300, time.Now()); err != nil {
		t.Fatalf("release: %v", err)
	}
	st, _ := s.GetStats(ctx, "u1")
	if st.Balance() != 500 {
		t.Errorf("balance = %d, want 500", st.Balance())
	}
}

func TestResolvePaymentCompareAndSwap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := &models.Payment{ID: s.NewID(), UserID: "u1", Amount: 2000, TrxID: "T1", Status: models.PaymentSubmitted, CreatedAt: time.Now()}
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := *p
	dup.ID = s.NewID()
	if err := s.CreatePayment(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("same trxId: want ErrDuplicate, got %v", err)
	}

	r := Resolution{Status: string(models.PaymentApproved), ReviewedBy: "admin", ReviewedAt: time.Now(), PinCount: 2}
	if err := s.ResolvePayment(ctx, p.ID, r); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.Status = string(models.PaymentRejected)
	if err := s.ResolvePayment(ctx, p.ID, r); !errors.Is(err, ErrConflict) {
		t.Fatalf("resolve twice: want ErrConflict, got %v", err)
	}
	got, _ := s.GetPayment(ctx, p.ID)
	if got.Status != models.PaymentApproved || got.PinCount != 2 {
		t.Errorf("payment = %+v", got)
	}
}

func TestTransactionRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.CreateEvent(ctx, &models.Event{Key: "k1", Type: "test", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if _, err := s.GetEvent(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("event survived rollback: %v", err)
	}

	err = s.Transaction(ctx, func(ctx context.Context) error {
		return s.Transaction(ctx, func(ctx context.Context) error {
			return s.CreateEvent(ctx, &models.Event{Key: "k2", Type: "test", CreatedAt: time.Now()})
		})
	})
	if err != nil {
		t.Fatalf("nested: %v", err)
	}
	if _, err := s.GetEvent(ctx, "k2"); err != nil {
		t.Fatalf("nested commit: %v", err)
	}
}

func TestDeleteExpiredPins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for code, exp := range map[string]time.Time{
		"OLD000000001": now.Add(-time.Hour),
		"NEW000000001": now.Add(time.Hour),
	} {
		if err := s.CreatePin(ctx, &models.Pin{Code: code, Status: models.PinUnused, ExpiresAt: exp, CreatedAt: now}); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
	}
	n, err := s.DeleteExpiredPins(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := s.GetPin(ctx, "NEW000000001"); err != nil {
		t.Errorf("live pin removed: %v", err)
	}
}
