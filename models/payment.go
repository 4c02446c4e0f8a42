package models

import "time"

type PaymentStatus string

const (
	PaymentSubmitted PaymentStatus = "submitted"
	PaymentApproved  PaymentStatus = "approved"
	PaymentRejected  PaymentStatus = "rejected"
)

type PaymentMethod string

const (
	MethodEasypaisa PaymentMethod = "easypaisa"
	MethodJazzcash  PaymentMethod = "jazzcash"
	MethodBank      PaymentMethod = "bank"
)

// Payment is a manual wallet transfer awaiting admin review. Status moves
// one way from submitted to approved or rejected.
type Payment struct {
	ID            string        `bson:"_id" json:"id" gorm:"primaryKey;size:64"`
	UserID        string        `bson:"userId" json:"userId" gorm:"index;size:64"`
	Method        PaymentMethod `bson:"method" json:"method" gorm:"size:16"`
	Amount        int64         `bson:"amount" json:"amount"` // rupees
	TrxID         string        `bson:"trxId" json:"trxId" gorm:"uniqueIndex;size:64"`
	AccountNumber string        `bson:"accountNumber" json:"accountNumber" gorm:"size:64"`
	ProofRef      string        `bson:"proofRef" json:"proofRef"`
	Status        PaymentStatus `bson:"status" json:"status" gorm:"index;size:16"`
	PinCount      int           `bson:"pinCount" json:"pinCount"`
	ReviewedBy    string        `bson:"reviewedBy,omitempty" json:"reviewedBy,omitempty" gorm:"size:64"`
	ReviewedAt    *time.Time    `bson:"reviewedAt,omitempty" json:"reviewedAt,omitempty"`
	Notes         string        `bson:"notes" json:"notes"`
	CreatedAt     time.Time     `bson:"createdAt" json:"createdAt"`
}

type WithdrawalStatus string

const (
	WithdrawalRequested WithdrawalStatus = "requested"
	WithdrawalPaid      WithdrawalStatus = "paid"
	WithdrawalRejected  WithdrawalStatus = "rejected"
)

type Withdrawal struct {
	ID            string           `bson:"_id" json:"id" gorm:"primaryKey;size:64"`
	UserID        string           `bson:"userId" json:"userId" gorm:"index;size:64"`
	Amount        int64            `bson:"amount" json:"amount"`
	Method        PaymentMethod    `bson:"method" json:"method" gorm:"size:16"`
	AccountNumber string           `bson:"accountNumber" json:"accountNumber" gorm:"size:64"`
	Status        WithdrawalStatus `bson:"status" json:"status" gorm:"index;size:16"`
	ReviewedBy    string           `bson:"reviewedBy,omitempty" json:"reviewedBy,omitempty" gorm:"size:64"`
	ReviewedAt    *time.Time       `bson:"reviewedAt,omitempty" json:"reviewedAt,omitempty"`
	Notes         string           `bson:"notes" json:"notes"`
	CreatedAt     time.Time        `bson:"createdAt" json:"createdAt"`
}
