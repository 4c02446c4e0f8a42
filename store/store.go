// Package store persists the network's documents. Two backends implement
// Store: MongoDB (the production document store) and GORM over SQLite or
// Postgres.
package store

import (
	"context"
	"errors"
	"time"

	"sknet/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrConflict means a conditional write found the document in an
	// unexpected state (slot already filled, PIN already used, ...).
	ErrConflict = errors.New("store: conflict")
)

type MemberFilter struct {
	Status models.MemberStatus
	Limit  int
	Offset int
}

type PinFilter struct {
	CreatedBy string
	Status    models.PinStatus
	Limit     int
}

type PaymentFilter struct {
	UserID string
	Status models.PaymentStatus
	Limit  int
}

type RewardFilter struct {
	UserID string
	Status models.RewardStatus
	Limit  int
}

type WithdrawalFilter struct {
	UserID string
	Status models.WithdrawalStatus
	Limit  int
}

// Resolution is the terminal review state written by a compare-and-swap on
// the document's current status.
type Resolution struct {
	Status     string
	ReviewedBy string
	ReviewedAt time.Time
	Notes      string
	PinCount   int
}

type MemberStore interface {
	CountMembers(ctx context.Context) (int64, error)
	CreateMember(ctx context.Context, m *models.Member) error
	GetMember(ctx context.Context, id string) (*models.Member, error)
	FindMemberByLogin(ctx context.Context, login string) (*models.Member, error)
	GetMembers(ctx context.Context, ids []string) ([]models.Member, error)
	ListMembers(ctx context.Context, f MemberFilter) ([]models.Member, error)
	UpdateMemberStatus(ctx context.Context, id string, status models.MemberStatus) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

type TreeStore interface {
	CreateTreeNode(ctx context.Context, n *models.TreeNode) error
	GetTreeNode(ctx context.Context, userID string) (*models.TreeNode, error)
	GetTreeNodes(ctx context.Context, userIDs []string) ([]models.TreeNode, error)
	// ClaimLeg links childID into the parent's empty leg slot. It returns
	// ErrConflict when the slot is already filled.
	ClaimLeg(ctx context.Context, parentID string, leg models.Leg, childID string) error
}

type StatsStore interface {
	CreateStats(ctx context.Context, s *models.UserStats) error
	GetStats(ctx context.Context, userID string) (*models.UserStats, error)
	ListStats(ctx context.Context, userIDs []string) ([]models.UserStats, error)
	// IncrementLegCounts adds one to leftCount for every id in left, one to
	// rightCount for every id in right and one to totalCount for both.
	IncrementLegCounts(ctx context.Context, left, right []string, at time.Time) error
	IncrementDirect(ctx context.Context, userID string, at time.Time) error
	// RaiseRank sets the rank only when order exceeds the stored rank order.
	RaiseRank(ctx context.Context, userID, rank string, order int, at time.Time) (bool, error)
	CreditEarnings(ctx context.Context, userID string, amount int64, at time.Time) error
	// ReserveWithdrawal moves amount into withdrawn when the balance covers
	// it, ErrConflict otherwise.
	ReserveWithdrawal(ctx context.Context, userID string, amount int64, at time.Time) error
	ReleaseWithdrawal(ctx context.Context, userID string, amount int64, at time.Time) error
}

type RewardStore interface {
	ListRewardTiers(ctx context.Context, activeOnly bool) ([]models.RewardTier, error)
	UpsertRewardTier(ctx context.Context, t *models.RewardTier) error
	CreateUserReward(ctx context.Context, r *models.UserReward) error
	GetUserReward(ctx context.Context, id string) (*models.UserReward, error)
	ListUserRewards(ctx context.Context, f RewardFilter) ([]models.UserReward, error)
	MarkRewardPaid(ctx context.Context, id string, at time.Time, notes string) error
}

type PinStore interface {
	CreatePin(ctx context.Context, p *models.Pin) error
	GetPin(ctx context.Context, code string) (*models.Pin, error)
	// MarkPinUsed flips an unused PIN to used, ErrConflict if it was not unused.
	MarkPinUsed(ctx context.Context, code, userID string, at time.Time) error
	ListPins(ctx context.Context, f PinFilter) ([]models.Pin, error)
	DeleteExpiredPins(ctx context.Context, before time.Time) (int64, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	ListPayments(ctx context.Context, f PaymentFilter) ([]models.Payment, error)
	// ResolvePayment moves a submitted payment to r.Status, ErrConflict if
	// it is no longer submitted.
	ResolvePayment(ctx context.Context, id string, r Resolution) error
}

type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]models.Withdrawal, error)
	ResolveWithdrawal(ctx context.Context, id string, r Resolution) error
}

type EventStore interface {
	GetEvent(ctx context.Context, key string) (*models.Event, error)
	CreateEvent(ctx context.Context, e *models.Event) error
}

type PushStore interface {
	SavePushSubscription(ctx context.Context, s *models.PushSubscription) error
	GetPushSubscription(ctx context.Context, userID string) (*models.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, userID string) error
}

type Store interface {
	MemberStore
	TreeStore
	StatsStore
	RewardStore
	PinStore
	PaymentStore
	WithdrawalStore
	EventStore
	PushStore

	NewID() string
	// Transaction runs fn atomically. Calls made with the ctx handed to fn
	// join the transaction; nested calls reuse the outer one.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func limitOr(limit, def int) int {
	if limit <= 0 || limit > 500 {
		return def
	}
	return limit
}
