package services

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindDuplicate
	KindUnauthorized
	KindForbidden
	KindInternal
)

// Error is the typed failure every service operation returns. Two errors
// match under errors.Is when their codes match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrDuplicate          = newErr(KindDuplicate, "duplicate_request", "Request already processed")
	ErrForbidden          = newErr(KindForbidden, "forbidden", "Admin access required")
	ErrInvalidCredentials = newErr(KindUnauthorized, "invalid_credentials", "Invalid login or password")
	ErrAccountSuspended   = newErr(KindForbidden, "account_suspended", "Account is not active")

	ErrPinNotFound    = newErr(KindNotFound, "pin_not_found", "PIN not found")
	ErrPinExpired     = newErr(KindConflict, "pin_expired", "PIN has expired")
	ErrPinAlreadyUsed = newErr(KindConflict, "pin_already_used", "PIN has already been used")

	ErrMemberNotFound  = newErr(KindNotFound, "member_not_found", "Member not found")
	ErrSponsorNotFound = newErr(KindNotFound, "sponsor_not_found", "Sponsor not found")
	ErrParentNotFound  = newErr(KindNotFound, "parent_not_found", "Placement parent not found")
	ErrLegOccupied     = newErr(KindConflict, "leg_occupied", "Selected leg is already occupied")
	ErrAccountTaken    = newErr(KindDuplicate, "account_taken", "Email or username already registered")
	ErrRootExists      = newErr(KindConflict, "root_exists", "Root account already exists")

	ErrPaymentNotFound  = newErr(KindNotFound, "payment_not_found", "Payment not found")
	ErrAlreadyProcessed = newErr(KindConflict, "already_processed", "Already processed")
	ErrDuplicateTrx     = newErr(KindDuplicate, "duplicate_trx", "Transaction ID already submitted")

	ErrRewardNotFound    = newErr(KindNotFound, "reward_not_found", "Reward not found")
	ErrRewardAlreadyPaid = newErr(KindConflict, "reward_already_paid", "Reward already paid")

	ErrWithdrawalNotFound  = newErr(KindNotFound, "withdrawal_not_found", "Withdrawal not found")
	ErrInsufficientBalance = newErr(KindConflict, "insufficient_balance", "Insufficient balance")
)

func validationErr(msg string) *Error {
	return newErr(KindValidation, "validation", msg)
}

func internalErr(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Message: msg, Err: err}
}

// KindOf reports the kind of err, KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
