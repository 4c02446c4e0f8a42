package models

import (
	"time"

	"gorm.io/datatypes"
)

// Event records a completed mutation under its idempotency key.
type Event struct {
	Key       string            `bson:"_id" json:"key" gorm:"column:event_key;primaryKey;size:160"`
	Type      string            `bson:"type" json:"type" gorm:"size:32"`
	RefID     string            `bson:"refId" json:"refId" gorm:"size:64"`
	UserID    string            `bson:"userId" json:"userId" gorm:"size:64"`
	Payload   datatypes.JSONMap `bson:"payload,omitempty" json:"payload,omitempty"`
	CreatedAt time.Time         `bson:"createdAt" json:"createdAt"`
}

const (
	EventRootCreated      = "root_created"
	EventAccountCreated   = "account_created"
	EventPaymentSubmitted = "payment_submitted"
	EventPaymentReviewed  = "payment_reviewed"
	EventPinsIssued       = "pins_issued"
	EventRewardPaid       = "reward_paid"
	EventWithdrawal       = "withdrawal_requested"
	EventWithdrawalReview = "withdrawal_reviewed"
)

// RootEventKey guards the single root creation.
const RootEventKey = "root"
