package services

import (
	"context"
	"errors"
	"testing"

	"sknet/models"
	"sknet/store"
)

func (h *harness) submit(t *testing.T, payer string, amount int64, trx string) *models.Payment {
	t.Helper()
	p, err := h.net.SubmitPayment(context.Background(), Actor{UserID: payer}, SubmitPaymentRequest{
		IdempotencyKey: h.key(),
		Method:         models.MethodEasypaisa,
		Amount:         amount,
		TrxID:          trx,
		AccountNumber:  "03001234567",
	})
	if err != nil {
		t.Fatalf("submit payment: %v", err)
	}
	return p
}

func (h *harness) pinsForPayment(t *testing.T, owner, paymentID string) []models.Pin {
	t.Helper()
	pins, err := h.store.ListPins(context.Background(), store.PinFilter{CreatedBy: owner})
	if err != nil {
		t.Fatalf("list pins: %v", err)
	}
	var out []models.Pin
	for _, p := range pins {
		if p.PaymentID == paymentID {
			out = append(out, p)
		}
	}
	return out
}

func TestApprovePaymentIssuesPins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	payer := h.place(t, root.ID, root.ID, models.LegLeft, "payer").Member

	p := h.submit(t, payer.ID, 2500, "TRX-1")
	if p.Status != models.PaymentSubmitted {
		t.Fatalf("status = %q", p.Status)
	}
	if len(h.notes.admins) != 1 {
		t.Errorf("admin notifications = %d, want 1", len(h.notes.admins))
	}

	res, err := h.net.ReviewPayment(ctx, admin, ReviewRequest{
		IdempotencyKey: "review-1", PaymentID: p.ID, Action: ActionApprove,
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Payment.Status != models.PaymentApproved || res.Payment.PinCount != 3 || len(res.Pins) != 3 {
		t.Fatalf("result = %+v", res)
	}
	for _, pin := range res.Pins {
		if pin.CreatedBy != payer.ID || pin.IssuedBy != admin.UserID || pin.Type != models.PinPurchased {
			t.Errorf("pin attribution = %+v", pin)
		}
	}
	if got := len(h.pinsForPayment(t, payer.ID, p.ID)); got != 3 {
		t.Errorf("stored pins = %d, want 3", got)
	}

	stored, _ := h.store.GetPayment(ctx, p.ID)
	if stored.Status != models.PaymentApproved || stored.ReviewedBy != admin.UserID || stored.ReviewedAt == nil {
		t.Errorf("stored payment = %+v", stored)
	}

	_, err = h.net.ReviewPayment(ctx, admin, ReviewRequest{
		IdempotencyKey: "review-2", PaymentID: p.ID, Action: ActionApprove,
	})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("second review: want ErrAlreadyProcessed, got %v", err)
	}
	_, err = h.net.ReviewPayment(ctx, admin, ReviewRequest{
		IdempotencyKey: "review-1", PaymentID: p.ID, Action: ActionApprove,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("replayed key: want ErrDuplicate, got %v", err)
	}
	if got := len(h.pinsForPayment(t, payer.ID, p.ID)); got != 3 {
		t.Errorf("pins after retries = %d, want 3", got)
	}
}

func TestPinsForRoundsUp(t *testing.T) {
	h := newHarness(t)
	cases := map[int64]int{0: 0, 1: 1, 999: 1, 1000: 1, 1001: 2, 2500: 3, 5000: 5}
	for amount, want := range cases {
		if got := h.net.PinsFor(amount); got != want {
			t.Errorf("PinsFor(%d) = %d, want %d", amount, got, want)
		}
	}
}

func TestRejectPaymentIssuesNothing(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	p := h.submit(t, root.ID, 1000, "TRX-R")

	res, err := h.net.ReviewPayment(context.Background(), admin, ReviewRequest{
		IdempotencyKey: h.key(), PaymentID: p.ID, Action: ActionReject, Notes: "no transfer found",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Payment.Status != models.PaymentRejected || len(res.Pins) != 0 || res.Payment.Notes != "no transfer found" {
		t.Errorf("result = %+v", res)
	}
	if got := h.pinsForPayment(t, root.ID, p.ID); len(got) != 0 {
		t.Errorf("pins issued on reject: %+v", got)
	}
}

// A payment resolved by an earlier attempt whose Event was never written
// must not produce PINs on a second attempt.
func TestReviewAfterInterruptedApproval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	p := h.submit(t, root.ID, 3000, "TRX-C")

	if err := h.store.ResolvePayment(ctx, p.ID, store.Resolution{
		Status: string(models.PaymentApproved), ReviewedBy: admin.UserID, ReviewedAt: h.clock.Now(),
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err := h.net.ReviewPayment(ctx, admin, ReviewRequest{
		IdempotencyKey: h.key(), PaymentID: p.ID, Action: ActionApprove,
	})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("want ErrAlreadyProcessed, got %v", err)
	}
	if got := h.pinsForPayment(t, root.ID, p.ID); len(got) != 0 {
		t.Errorf("pins issued: %d", len(got))
	}
}

func TestReviewPreconditionOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	p := h.submit(t, root.ID, 1000, "TRX-O")
	member := Actor{UserID: root.ID}

	_, err := h.net.ReviewPayment(ctx, member, ReviewRequest{IdempotencyKey: "k-o", PaymentID: p.ID, Action: ActionApprove})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin: want ErrForbidden, got %v", err)
	}
	_, err = h.net.ReviewPayment(ctx, admin, ReviewRequest{IdempotencyKey: "k-o", PaymentID: "missing", Action: ActionApprove})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("missing payment: want ErrPaymentNotFound, got %v", err)
	}
	if _, err := h.net.ReviewPayment(ctx, admin, ReviewRequest{IdempotencyKey: "k-o", PaymentID: p.ID, Action: ActionApprove}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// A recorded key wins over every later check.
	_, err = h.net.ReviewPayment(ctx, member, ReviewRequest{IdempotencyKey: "k-o", PaymentID: "missing", Action: ActionApprove})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("used key: want ErrDuplicate, got %v", err)
	}

	_, err = h.net.ReviewPayment(ctx, admin, ReviewRequest{IdempotencyKey: h.key(), PaymentID: p.ID, Action: "maybe"})
	if KindOf(err) != KindValidation {
		t.Errorf("bad action: want validation error, got %v", err)
	}
}

// failingEvents lets every write succeed except the Event record.
type failingEvents struct {
	store.Store
}

func (failingEvents) CreateEvent(context.Context, *models.Event) error {
	return errors.New("event log unavailable")
}

func TestReviewRollsBackWhenEventFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	p := h.submit(t, root.ID, 2000, "TRX-F")

	broken := New(failingEvents{h.store}, nil, Options{Clock: h.clock.Now, PinPrice: 1000})
	_, err := broken.ReviewPayment(ctx, admin, ReviewRequest{IdempotencyKey: h.key(), PaymentID: p.ID, Action: ActionApprove})
	if KindOf(err) != KindInternal {
		t.Fatalf("want internal error, got %v", err)
	}

	stored, _ := h.store.GetPayment(ctx, p.ID)
	if stored.Status != models.PaymentSubmitted {
		t.Errorf("payment status = %q after rollback", stored.Status)
	}
	if got := h.pinsForPayment(t, root.ID, p.ID); len(got) != 0 {
		t.Errorf("pins survived rollback: %d", len(got))
	}

	if _, err := h.net.ReviewPayment(ctx, admin, ReviewRequest{IdempotencyKey: h.key(), PaymentID: p.ID, Action: ActionApprove}); err != nil {
		t.Fatalf("approve after rollback: %v", err)
	}
	if got := h.pinsForPayment(t, root.ID, p.ID); len(got) != 2 {
		t.Errorf("pins = %d, want 2", len(got))
	}
}

func TestSubmitPaymentDuplicateTrx(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	h.submit(t, root.ID, 1000, "TRX-D")

	_, err := h.net.SubmitPayment(context.Background(), Actor{UserID: root.ID}, SubmitPaymentRequest{
		IdempotencyKey: h.key(),
		Method:         models.MethodJazzcash,
		Amount:         1000,
		TrxID:          "TRX-D",
		AccountNumber:  "03001234567",
	})
	if !errors.Is(err, ErrDuplicateTrx) {
		t.Fatalf("want ErrDuplicateTrx, got %v", err)
	}
}

func TestListPaymentsAddsContacts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	h.submit(t, root.ID, 1000, "TRX-L")

	if _, err := h.net.ListPayments(ctx, Actor{UserID: root.ID}, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin list: got %v", err)
	}
	list, err := h.net.ListPayments(ctx, admin, models.PaymentSubmitted)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Username != "root" || list[0].Email != "root@example.com" {
		t.Errorf("list = %+v", list)
	}
}
