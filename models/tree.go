package models

import "time"

// TreeNode is a member's position in the binary tree. Ancestors is ordered
// root first and excludes the node itself.
type TreeNode struct {
	UserID       string    `bson:"_id" json:"userId" gorm:"primaryKey;size:64"`
	ParentUserID string    `bson:"parentUserId" json:"parentUserId" gorm:"index;size:64"`
	Leg          Leg       `bson:"leg" json:"leg" gorm:"size:8"`
	Ancestors    []string  `bson:"ancestors" json:"ancestors" gorm:"serializer:json"`
	Depth        int       `bson:"depth" json:"depth"`
	LeftChildID  string    `bson:"leftChildId" json:"leftChildId" gorm:"size:64"`
	RightChildID string    `bson:"rightChildId" json:"rightChildId" gorm:"size:64"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}

func (n *TreeNode) Child(leg Leg) string {
	if leg == LegLeft {
		return n.LeftChildID
	}
	return n.RightChildID
}

func (n *TreeNode) IsRoot() bool {
	return n.ParentUserID == ""
}

type UserStats struct {
	UserID        string    `bson:"_id" json:"userId" gorm:"primaryKey;size:64"`
	LeftCount     int64     `bson:"leftCount" json:"leftCount"`
	RightCount    int64     `bson:"rightCount" json:"rightCount"`
	TotalCount    int64     `bson:"totalCount" json:"totalCount"` // always LeftCount + RightCount
	DirectCount   int64     `bson:"directCount" json:"directCount"`
	CurrentRank   string    `bson:"currentRank" json:"currentRank" gorm:"size:32"`
	HighestRank   string    `bson:"highestRank" json:"highestRank" gorm:"size:32"`
	RankOrder     int       `bson:"rankOrder" json:"rankOrder"`
	TotalEarnings int64     `bson:"totalEarnings" json:"totalEarnings"` // rupees
	Withdrawn     int64     `bson:"withdrawn" json:"withdrawn"`         // rupees, includes pending requests
	LastUpdated   time.Time `bson:"lastUpdated" json:"lastUpdated"`
}

const InitialRank = "0 Star"

func (s *UserStats) Balance() int64 {
	return s.TotalEarnings - s.Withdrawn
}
