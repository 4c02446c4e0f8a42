package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sknet/models"
	"sknet/monitoring"
	"sknet/store"
)

type SubmitPaymentRequest struct {
	IdempotencyKey string               `validate:"required,max=128"`
	Method         models.PaymentMethod `validate:"required,oneof=easypaisa jazzcash bank"`
	Amount         int64                `validate:"min=1"`
	TrxID          string               `validate:"required,max=64"`
	AccountNumber  string               `validate:"required,max=64"`
	ProofRef       string               `validate:"max=512"`
}

// SubmitPayment records a manual transfer for admin review.
func (n *Network) SubmitPayment(ctx context.Context, actor Actor, req SubmitPaymentRequest) (*models.Payment, error) {
	req.TrxID = strings.TrimSpace(req.TrxID)
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	if err := check(req); err != nil {
		return nil, err
	}
	if err := n.seen(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	}

	p := &models.Payment{
		ID:            n.store.NewID(),
		UserID:        actor.UserID,
		Method:        req.Method,
		Amount:        req.Amount,
		TrxID:         req.TrxID,
		AccountNumber: req.AccountNumber,
		ProofRef:      req.ProofRef,
		Status:        models.PaymentSubmitted,
		CreatedAt:     n.now(),
	}
	err := n.store.Transaction(ctx, func(ctx context.Context) error {
		if err := n.store.CreatePayment(ctx, p); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrDuplicateTrx
			}
			return err
		}
		return n.record(ctx, req.IdempotencyKey, models.EventPaymentSubmitted, p.ID, actor.UserID,
			map[string]interface{}{"amount": p.Amount, "method": string(p.Method)})
	})
	if err != nil {
		return nil, n.fail("submit payment", err)
	}

	n.notifier.NotifyAdmins(ctx, models.Notification{
		Type:  "payment_submitted",
		Title: "New payment to review",
		Body:  "Rs " + formatRs(p.Amount) + " via " + string(p.Method) + " (trx " + p.TrxID + ")",
		Data:  map[string]interface{}{"paymentId": p.ID, "userId": p.UserID},
	})
	return p, nil
}

type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionReject  ReviewAction = "reject"
)

type ReviewRequest struct {
	IdempotencyKey string       `validate:"required,max=128"`
	PaymentID      string       `validate:"required"`
	Action         ReviewAction `validate:"required,oneof=approve reject"`
	Notes          string       `validate:"max=500"`
}

type ReviewResult struct {
	Payment models.Payment `json:"payment"`
	Pins    []models.Pin   `json:"pins,omitempty"`
}

// PinsFor is the number of PINs an approved amount buys, rounded up.
func (n *Network) PinsFor(amount int64) int {
	if amount <= 0 {
		return 0
	}
	return int((amount + n.pinPrice - 1) / n.pinPrice)
}

// ReviewPayment approves or rejects a submitted payment. Preconditions are
// checked in order: idempotency key, admin, existence, status. The status
// compare-and-swap, PIN issuance and Event record share one transaction.
func (n *Network) ReviewPayment(ctx context.Context, actor Actor, req ReviewRequest) (*ReviewResult, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if err := n.seen(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if !actor.Admin {
		return nil, ErrForbidden
	}
	payment, err := n.store.GetPayment(ctx, req.PaymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, n.fail("load payment", err)
	}
	if payment.Status != models.PaymentSubmitted {
		return nil, ErrAlreadyProcessed
	}

	status := models.PaymentRejected
	pinCount := 0
	if req.Action == ActionApprove {
		status = models.PaymentApproved
		pinCount = n.PinsFor(payment.Amount)
	}
	now := n.now()

	var pins []models.Pin
	err = n.store.Transaction(ctx, func(ctx context.Context) error {
		err := n.store.ResolvePayment(ctx, payment.ID, store.Resolution{
			Status:     string(status),
			ReviewedBy: actor.UserID,
			ReviewedAt: now,
			Notes:      req.Notes,
			PinCount:   pinCount,
		})
		if errors.Is(err, store.ErrConflict) {
			return ErrAlreadyProcessed
		}
		if err != nil {
			return err
		}
		if pinCount > 0 {
			pins, err = n.issuePins(ctx, pinCount, models.PinPurchased, payment.UserID, actor.UserID, payment.ID)
			if err != nil {
				return err
			}
		}
		return n.record(ctx, req.IdempotencyKey, models.EventPaymentReviewed, payment.ID, actor.UserID,
			map[string]interface{}{"action": string(req.Action), "pinCount": pinCount})
	})
	if err != nil {
		return nil, n.fail("review payment", err)
	}

	payment.Status = status
	payment.ReviewedBy = actor.UserID
	payment.ReviewedAt = &now
	payment.Notes = req.Notes
	payment.PinCount = pinCount

	monitoring.PaymentsReviewed.WithLabelValues(string(req.Action)).Inc()
	n.log.Info("payment reviewed",
		zap.String("paymentId", payment.ID),
		zap.String("action", string(req.Action)),
		zap.Int("pins", pinCount),
		zap.String("admin", actor.UserID))

	body := "Your payment was rejected"
	if status == models.PaymentApproved {
		body = "Your payment was approved: " + pluralPins(pinCount) + " issued"
	}
	n.notifier.Notify(ctx, payment.UserID, models.Notification{
		Type:  "payment_reviewed",
		Title: "Payment " + string(status),
		Body:  body,
		Data:  map[string]interface{}{"paymentId": payment.ID, "status": string(status)},
	})
	return &ReviewResult{Payment: *payment, Pins: pins}, nil
}

func (n *Network) MyPayments(ctx context.Context, userID string) ([]models.Payment, error) {
	payments, err := n.store.ListPayments(ctx, store.PaymentFilter{UserID: userID})
	if err != nil {
		return nil, n.fail("list payments", err)
	}
	return payments, nil
}

// AdminPayment is a payment with the submitting member's contact details.
type AdminPayment struct {
	models.Payment
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

func (n *Network) ListPayments(ctx context.Context, actor Actor, status models.PaymentStatus) ([]AdminPayment, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	payments, err := n.store.ListPayments(ctx, store.PaymentFilter{Status: status})
	if err != nil {
		return nil, n.fail("list payments", err)
	}

	ids := make([]string, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.UserID)
	}
	members, err := n.store.GetMembers(ctx, uniqueIDs(ids))
	if err != nil {
		return nil, n.fail("load payment members", err)
	}
	byID := make(map[string]models.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	out := make([]AdminPayment, 0, len(payments))
	for _, p := range payments {
		m := byID[p.UserID]
		out = append(out, AdminPayment{Payment: p, Username: m.Username, FullName: m.FullName, Email: m.Email, Phone: m.Phone})
	}
	return out, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func formatRs(amount int64) string {
	return strconv.FormatInt(amount, 10)
}
