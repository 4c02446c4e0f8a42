package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/dchest/uniuri"

	"sknet/models"
	"sknet/monitoring"
	"sknet/store"
)

const (
	PinLength     = 12
	pinAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	pinAttempts   = 8
	maxPinsPerReq = 500
)

func NewPinCode() string {
	return uniuri.NewLenChars(PinLength, []byte(pinAlphabet))
}

func NormalizePin(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type IssuePinsRequest struct {
	IdempotencyKey string         `validate:"required,max=128"`
	Count          int            `validate:"min=1,max=500"`
	Type           models.PinType `validate:"required,oneof=purchased admin"`
	OwnerID        string         `validate:"required"`
}

// IssuePins is the admin path for handing out PINs outside a payment.
func (n *Network) IssuePins(ctx context.Context, actor Actor, req IssuePinsRequest) ([]models.Pin, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if err := n.seen(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if !actor.Admin {
		return nil, ErrForbidden
	}
	if _, err := n.store.GetMember(ctx, req.OwnerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, n.fail("load pin owner", err)
	}

	var pins []models.Pin
	err := n.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		pins, err = n.issuePins(ctx, req.Count, req.Type, req.OwnerID, actor.UserID, "")
		if err != nil {
			return err
		}
		return n.record(ctx, req.IdempotencyKey, models.EventPinsIssued, req.OwnerID, actor.UserID,
			map[string]interface{}{"count": req.Count, "type": string(req.Type)})
	})
	if err != nil {
		return nil, n.fail("issue pins", err)
	}
	n.notifier.Notify(ctx, req.OwnerID, models.Notification{
		Type:  "pins_issued",
		Title: "New PINs available",
		Body:  pluralPins(len(pins)) + " added to your account",
	})
	return pins, nil
}

// issuePins creates count codes. A code that collides with an existing one
// is regenerated; the batch is never shortened.
func (n *Network) issuePins(ctx context.Context, count int, typ models.PinType, ownerID, issuedBy, paymentID string) ([]models.Pin, error) {
	if count > maxPinsPerReq {
		return nil, validationErr("too many PINs in one request")
	}
	now := n.now()
	pins := make([]models.Pin, 0, count)
	for i := 0; i < count; i++ {
		pin, err := n.issueOne(ctx, models.Pin{
			Status:    models.PinUnused,
			Type:      typ,
			CreatedBy: ownerID,
			IssuedBy:  issuedBy,
			PaymentID: paymentID,
			ExpiresAt: now.Add(n.pinTTL),
			CreatedAt: now,
		})
		if err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	monitoring.PinsIssued.WithLabelValues(string(typ)).Add(float64(count))
	return pins, nil
}

func (n *Network) issueOne(ctx context.Context, pin models.Pin) (models.Pin, error) {
	for attempt := 0; attempt < pinAttempts; attempt++ {
		pin.Code = n.pinCodes()
		// Checked first so a collision never aborts an open transaction.
		if _, err := n.store.GetPin(ctx, pin.Code); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return pin, err
		}
		err := n.store.CreatePin(ctx, &pin)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		return pin, err
	}
	return pin, errors.New("could not generate a unique PIN code")
}

// RedeemPin marks an unused, unexpired PIN as used by redeemerID. Expired
// PINs stay unused until purged.
func (n *Network) RedeemPin(ctx context.Context, code, redeemerID string) (*models.Pin, error) {
	code = NormalizePin(code)
	pin, err := n.store.GetPin(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPinNotFound
	}
	if err != nil {
		return nil, err
	}
	if pin.Status == models.PinUsed {
		return nil, ErrPinAlreadyUsed
	}
	now := n.now()
	if pin.Expired(now) {
		return nil, ErrPinExpired
	}
	if err := n.store.MarkPinUsed(ctx, code, redeemerID, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrPinAlreadyUsed
		}
		return nil, err
	}
	pin.Status = models.PinUsed
	pin.UsedByUserID = redeemerID
	pin.UsedAt = &now
	return pin, nil
}

func (n *Network) MyPins(ctx context.Context, userID string, status models.PinStatus) ([]models.Pin, error) {
	pins, err := n.store.ListPins(ctx, store.PinFilter{CreatedBy: userID, Status: status})
	if err != nil {
		return nil, n.fail("list pins", err)
	}
	return pins, nil
}

// PinForOwner returns a PIN only to the member it is attributed to.
func (n *Network) PinForOwner(ctx context.Context, actor Actor, code string) (*models.Pin, error) {
	pin, err := n.store.GetPin(ctx, NormalizePin(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPinNotFound
	}
	if err != nil {
		return nil, n.fail("load pin", err)
	}
	if pin.CreatedBy != actor.UserID && !actor.Admin {
		return nil, ErrPinNotFound
	}
	return pin, nil
}

func (n *Network) PurgeExpiredPins(ctx context.Context) (int64, error) {
	deleted, err := n.store.DeleteExpiredPins(ctx, n.now())
	if err != nil {
		return 0, n.fail("purge pins", err)
	}
	return deleted, nil
}

func pluralPins(count int) string {
	if count == 1 {
		return "1 PIN"
	}
	return strconv.Itoa(count) + " PINs"
}
