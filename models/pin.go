package models

import "time"

type PinStatus string

const (
	PinUnused PinStatus = "unused"
	PinUsed   PinStatus = "used"
)

type PinType string

const (
	PinPurchased PinType = "purchased"
	PinAdmin     PinType = "admin"
)

// Pin is a single-use signup code. CreatedBy is the member the PIN is
// attributed to; IssuedBy is whoever caused the issuance.
type Pin struct {
	Code         string     `bson:"_id" json:"code" gorm:"primaryKey;size:16"`
	Status       PinStatus  `bson:"status" json:"status" gorm:"index;size:16"`
	Type         PinType    `bson:"type" json:"type" gorm:"size:16"`
	CreatedBy    string     `bson:"createdBy" json:"createdBy" gorm:"index;size:64"`
	IssuedBy     string     `bson:"issuedBy" json:"issuedBy" gorm:"size:64"`
	PaymentID    string     `bson:"paymentId,omitempty" json:"paymentId,omitempty" gorm:"size:64"`
	UsedByUserID string     `bson:"usedByUserId,omitempty" json:"usedByUserId,omitempty" gorm:"size:64"`
	UsedAt       *time.Time `bson:"usedAt,omitempty" json:"usedAt,omitempty"`
	ExpiresAt    time.Time  `bson:"expiresAt" json:"expiresAt" gorm:"index"`
	CreatedAt    time.Time  `bson:"createdAt" json:"createdAt"`
}

// Expired reports whether the expiry is strictly in the past.
func (p *Pin) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
