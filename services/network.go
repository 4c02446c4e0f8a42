// Package services implements the membership network: the PIN ledger,
// tree placement, reward evaluation and the admin review workflows.
package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"sknet/models"
	"sknet/store"
)

// Notifier delivers best-effort notifications. Implementations must not
// block the caller.
type Notifier interface {
	Notify(ctx context.Context, userID string, n models.Notification)
	NotifyAdmins(ctx context.Context, n models.Notification)
}

// RetryQueue schedules a later reward evaluation for a member.
type RetryQueue interface {
	EnqueueRewardCheck(ctx context.Context, userID string) error
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Admin  bool
}

type Options struct {
	PinTTL   time.Duration
	PinPrice int64
	Notifier Notifier
	Retry    RetryQueue
	Clock    func() time.Time
	// PinCodes overrides the PIN code generator.
	PinCodes func() string
}

type Network struct {
	store    store.Store
	log      *zap.Logger
	notifier Notifier
	retry    RetryQueue
	now      func() time.Time
	pinTTL   time.Duration
	pinPrice int64
	pinCodes func() string
}

const (
	DefaultPinTTL   = 30 * 24 * time.Hour
	DefaultPinPrice = 1000
)

func New(st store.Store, log *zap.Logger, opts Options) *Network {
	n := &Network{
		store:    st,
		log:      log,
		notifier: opts.Notifier,
		retry:    opts.Retry,
		now:      opts.Clock,
		pinTTL:   opts.PinTTL,
		pinPrice: opts.PinPrice,
		pinCodes: opts.PinCodes,
	}
	if n.log == nil {
		n.log = zap.NewNop()
	}
	if n.notifier == nil {
		n.notifier = nopNotifier{}
	}
	if n.now == nil {
		n.now = func() time.Time { return time.Now().UTC() }
	}
	if n.pinTTL <= 0 {
		n.pinTTL = DefaultPinTTL
	}
	if n.pinPrice <= 0 {
		n.pinPrice = DefaultPinPrice
	}
	if n.pinCodes == nil {
		n.pinCodes = NewPinCode
	}
	return n
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, models.Notification) {}
func (nopNotifier) NotifyAdmins(context.Context, models.Notification)   {}

// seen reports whether key was already recorded. It runs before any side
// effect; the unique Event key inside the transaction closes the race.
func (n *Network) seen(ctx context.Context, key string) error {
	_, err := n.store.GetEvent(ctx, key)
	switch {
	case err == nil:
		return ErrDuplicate
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return internalErr("idempotency lookup failed", err)
	}
}

func (n *Network) record(ctx context.Context, key, typ, refID, userID string, payload map[string]interface{}) error {
	err := n.store.CreateEvent(ctx, &models.Event{
		Key:       key,
		Type:      typ,
		RefID:     refID,
		UserID:    userID,
		Payload:   payload,
		CreatedAt: n.now(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return ErrDuplicate
	}
	return err
}

// fail logs unexpected errors and wraps them as internal.
func (n *Network) fail(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	n.log.Error(op+" failed", zap.Error(err))
	return internalErr(op+" failed", err)
}
