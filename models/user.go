package models

import "time"

type MemberStatus string

const (
	MemberPendingPayment MemberStatus = "pending payment"
	MemberActive         MemberStatus = "active"
	MemberSuspended      MemberStatus = "suspended"
	MemberRejected       MemberStatus = "rejected"
)

type Leg string

const (
	LegLeft  Leg = "left"
	LegRight Leg = "right"
)

// Member is an account in the network. SponsorID, UnderUserID and Leg are
// written once at placement and never change afterwards.
type Member struct {
	ID           string       `bson:"_id" json:"id" gorm:"primaryKey;size:64"`
	Username     string       `bson:"username" json:"username" gorm:"uniqueIndex;size:64"`
	Email        string       `bson:"email" json:"email" gorm:"uniqueIndex;size:255"`
	Phone        string       `bson:"phone" json:"phone" gorm:"size:32"`
	FullName     string       `bson:"fullName" json:"fullName" gorm:"size:128"`
	PasswordHash string       `bson:"passwordHash" json:"-"`
	SponsorID    string       `bson:"sponsorId" json:"sponsorId" gorm:"index;size:64"`     // "" for root or when unsponsored
	UnderUserID  string       `bson:"underUserId" json:"underUserId" gorm:"index;size:64"` // "" for root
	Leg          Leg          `bson:"leg" json:"leg" gorm:"size:8"`                       // "" for root
	Status       MemberStatus `bson:"status" json:"status" gorm:"index;size:32"`

	CreatedAt   time.Time  `bson:"createdAt" json:"createdAt"`
	LastLoginAt *time.Time `bson:"lastLoginAt,omitempty" json:"lastLoginAt,omitempty"`
}

// MemberSummary is the public projection of a member shown to other members.
type MemberSummary struct {
	ID       string       `json:"id"`
	Username string       `json:"username"`
	FullName string       `json:"fullName"`
	Status   MemberStatus `json:"status"`
}

func (m *Member) Summary() MemberSummary {
	return MemberSummary{ID: m.ID, Username: m.Username, FullName: m.FullName, Status: m.Status}
}

func (s MemberStatus) Valid() bool {
	switch s {
	case MemberPendingPayment, MemberActive, MemberSuspended, MemberRejected:
		return true
	}
	return false
}

func (l Leg) Valid() bool {
	return l == LegLeft || l == LegRight
}
