package services

import (
	"context"
	"errors"
	"strings"

	"sknet/models"
	"sknet/store"
)

type WithdrawalRequest struct {
	IdempotencyKey string               `validate:"required,max=128"`
	Amount         int64                `validate:"min=1"`
	Method         models.PaymentMethod `validate:"required,oneof=easypaisa jazzcash bank"`
	AccountNumber  string               `validate:"required,max=64"`
}

// RequestWithdrawal reserves amount from the member's balance and files a
// request for an admin to pay out.
func (n *Network) RequestWithdrawal(ctx context.Context, actor Actor, req WithdrawalRequest) (*models.Withdrawal, error) {
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	if err := check(req); err != nil {
		return nil, err
	}
	if err := n.seen(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	}

	now := n.now()
	w := &models.Withdrawal{
		ID:            n.store.NewID(),
		UserID:        actor.UserID,
		Amount:        req.Amount,
		Method:        req.Method,
		AccountNumber: req.AccountNumber,
		Status:        models.WithdrawalRequested,
		CreatedAt:     now,
	}
	err := n.store.Transaction(ctx, func(ctx context.Context) error {
		if err := n.store.ReserveWithdrawal(ctx, actor.UserID, req.Amount, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrInsufficientBalance
			}
			return err
		}
		if err := n.store.CreateWithdrawal(ctx, w); err != nil {
			return err
		}
		return n.record(ctx, req.IdempotencyKey, models.EventWithdrawal, w.ID, actor.UserID,
			map[string]interface{}{"amount": req.Amount})
	})
	if err != nil {
		return nil, n.fail("request withdrawal", err)
	}

	n.notifier.NotifyAdmins(ctx, models.Notification{
		Type:  "withdrawal_requested",
		Title: "Withdrawal requested",
		Body:  "Rs " + formatRs(w.Amount) + " to " + string(w.Method) + " " + w.AccountNumber,
		Data:  map[string]interface{}{"withdrawalId": w.ID, "userId": w.UserID},
	})
	return w, nil
}

type WithdrawalReviewRequest struct {
	IdempotencyKey string                  `validate:"required,max=128"`
	WithdrawalID   string                  `validate:"required"`
	Status         models.WithdrawalStatus `validate:"required,oneof=paid rejected"`
	Notes          string                  `validate:"max=500"`
}

// ReviewWithdrawal settles a request. Rejecting it returns the reserved
// amount to the member's balance.
func (n *Network) ReviewWithdrawal(ctx context.Context, actor Actor, req WithdrawalReviewRequest) (*models.Withdrawal, error) {
	if err := check(req); err != nil {
		return nil, err
	}
	if err := n.seen(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	}
	if !actor.Admin {
		return nil, ErrForbidden
	}
	w, err := n.store.GetWithdrawal(ctx, req.WithdrawalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, n.fail("load withdrawal", err)
	}
	if w.Status != models.WithdrawalRequested {
		return nil, ErrAlreadyProcessed
	}

	now := n.now()
	err = n.store.Transaction(ctx, func(ctx context.Context) error {
		err := n.store.ResolveWithdrawal(ctx, w.ID, store.Resolution{
			Status:     string(req.Status),
			ReviewedBy: actor.UserID,
			ReviewedAt: now,
			Notes:      req.Notes,
		})
		if errors.Is(err, store.ErrConflict) {
			return ErrAlreadyProcessed
		}
		if err != nil {
			return err
		}
		if req.Status == models.WithdrawalRejected {
			if err := n.store.ReleaseWithdrawal(ctx, w.UserID, w.Amount, now); err != nil {
				return err
			}
		}
		return n.record(ctx, req.IdempotencyKey, models.EventWithdrawalReview, w.ID, actor.UserID,
			map[string]interface{}{"status": string(req.Status)})
	})
	if err != nil {
		return nil, n.fail("review withdrawal", err)
	}

	w.Status = req.Status
	w.ReviewedBy = actor.UserID
	w.ReviewedAt = &now
	w.Notes = req.Notes
	n.notifier.Notify(ctx, w.UserID, models.Notification{
		Type:  "withdrawal_reviewed",
		Title: "Withdrawal " + string(w.Status),
		Body:  "Rs " + formatRs(w.Amount) + " withdrawal " + string(w.Status),
		Data:  map[string]interface{}{"withdrawalId": w.ID},
	})
	return w, nil
}

func (n *Network) MyWithdrawals(ctx context.Context, userID string) ([]models.Withdrawal, error) {
	out, err := n.store.ListWithdrawals(ctx, store.WithdrawalFilter{UserID: userID})
	if err != nil {
		return nil, n.fail("list withdrawals", err)
	}
	return out, nil
}

func (n *Network) ListWithdrawals(ctx context.Context, actor Actor, status models.WithdrawalStatus) ([]models.Withdrawal, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	out, err := n.store.ListWithdrawals(ctx, store.WithdrawalFilter{Status: status})
	if err != nil {
		return nil, n.fail("list withdrawals", err)
	}
	return out, nil
}
