package models

import (
	"fmt"
	"time"
)

type RewardTier struct {
	Order     int    `bson:"_id" json:"order" yaml:"order" gorm:"column:tier_order;primaryKey;autoIncrement:false"`
	Threshold int64  `bson:"threshold" json:"threshold" yaml:"threshold"`
	Rank      string `bson:"rank" json:"rank" yaml:"rank" gorm:"size:32"`
	BonusRs   int64  `bson:"bonusRs" json:"bonusRs" yaml:"bonusRs"`
	IsActive  bool   `bson:"isActive" json:"isActive" yaml:"isActive"`
}

type RewardStatus string

const (
	RewardPending RewardStatus = "pending"
	RewardPaid    RewardStatus = "paid"
)

// UserReward records that a member crossed a tier threshold. At most one
// exists per (UserID, TierOrder).
type UserReward struct {
	ID        string       `bson:"_id" json:"id" gorm:"primaryKey;size:96"`
	UserID    string       `bson:"userId" json:"userId" gorm:"uniqueIndex:idx_reward_user_tier;size:64"`
	TierOrder int          `bson:"tierOrder" json:"tierOrder" gorm:"uniqueIndex:idx_reward_user_tier"`
	Rank      string       `bson:"rank" json:"rank" gorm:"size:32"`
	BonusRs   int64        `bson:"bonusRs" json:"bonusRs"`
	Status    RewardStatus `bson:"status" json:"status" gorm:"index;size:16"`
	Notes     string       `bson:"notes" json:"notes"`
	AwardedAt time.Time    `bson:"awardedAt" json:"awardedAt"`
	PaidAt    *time.Time   `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
}

// RewardID is deterministic so the primary key doubles as the uniqueness guard.
func RewardID(userID string, tierOrder int) string {
	return fmt.Sprintf("%s:%d", userID, tierOrder)
}
