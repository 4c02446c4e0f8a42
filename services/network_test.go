package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"sknet/database"
	"sknet/models"
	"sknet/store"
)

var admin = Actor{UserID: "admin-1", Admin: true}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	users  map[string][]models.Notification
	admins []models.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, userID string, n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users == nil {
		r.users = map[string][]models.Notification{}
	}
	r.users[userID] = append(r.users[userID], n)
}

func (r *recordingNotifier) NotifyAdmins(_ context.Context, n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins = append(r.admins, n)
}

func (r *recordingNotifier) forUser(userID string) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.users[userID]...)
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *recordingQueue) EnqueueRewardCheck(_ context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, userID)
	return nil
}

type harness struct {
	net    *Network
	store  *store.GormStore
	clock  *testClock
	notes  *recordingNotifier
	queue  *recordingQueue
	keySeq int
}

func openTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	db, err := database.OpenSQL("sqlite", filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.NewGormStore(db)
	t.Cleanup(func() { st.Close(context.Background()) })
	return st
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore lets a test wrap the real store to inject failures.
func newHarnessWithStore(t *testing.T, wrap func(store.Store) store.Store) *harness {
	t.Helper()
	h := &harness{
		store: openTestStore(t),
		clock: &testClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)},
		notes: &recordingNotifier{},
		queue: &recordingQueue{},
	}
	var st store.Store = h.store
	if wrap != nil {
		st = wrap(st)
	}
	h.net = New(st, zap.NewNop(), Options{
		PinTTL:   30 * 24 * time.Hour,
		PinPrice: 1000,
		Notifier: h.notes,
		Retry:    h.queue,
		Clock:    h.clock.Now,
	})
	return h
}

func (h *harness) key() string {
	h.keySeq++
	return fmt.Sprintf("key-%d", h.keySeq)
}

func account(name string) AccountFields {
	return AccountFields{
		Username: name,
		Email:    name + "@example.com",
		Phone:    "03001234567",
		FullName: "Member " + name,
		Password: "Passw0rd1",
	}
}

func (h *harness) root(t *testing.T) models.Member {
	t.Helper()
	res, err := h.net.CreateRoot(context.Background(), RootRequest{Account: account("root")})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	return res.Member
}

func (h *harness) pin(t *testing.T, ownerID string) string {
	t.Helper()
	pins, err := h.net.IssuePins(context.Background(), admin, IssuePinsRequest{
		IdempotencyKey: h.key(),
		Count:          1,
		Type:           models.PinAdmin,
		OwnerID:        ownerID,
	})
	if err != nil {
		t.Fatalf("issue pin: %v", err)
	}
	return pins[0].Code
}

func (h *harness) place(t *testing.T, sponsor, under string, leg models.Leg, name string) *PlacementResult {
	t.Helper()
	res, err := h.net.PlaceMember(context.Background(), PlacementRequest{
		IdempotencyKey: h.key(),
		PinCode:        h.pin(t, sponsor),
		SponsorID:      sponsor,
		UnderUserID:    under,
		Leg:            leg,
		Account:        account(name),
	})
	if err != nil {
		t.Fatalf("place %s: %v", name, err)
	}
	return res
}

func (h *harness) stats(t *testing.T, userID string) *models.UserStats {
	t.Helper()
	s, err := h.store.GetStats(context.Background(), userID)
	if err != nil {
		t.Fatalf("stats %s: %v", userID, err)
	}
	return s
}

func (h *harness) seedTier(t *testing.T, order int, threshold int64) {
	t.Helper()
	if _, err := h.net.UpsertTier(context.Background(), admin, TierRequest{
		Order: order, Threshold: threshold, Rank: fmt.Sprintf("%d Star", order), BonusRs: int64(order) * 100, IsActive: true,
	}); err != nil {
		t.Fatalf("seed tier: %v", err)
	}
}
