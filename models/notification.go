package models

import "time"

// PushSubscription is one browser push endpoint per member.
type PushSubscription struct {
	UserID    string    `bson:"_id" json:"userId" gorm:"primaryKey;size:64"`
	Endpoint  string    `bson:"endpoint" json:"endpoint"`
	P256dh    string    `bson:"p256dh" json:"p256dh"`
	Auth      string    `bson:"auth" json:"auth"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

type Notification struct {
	Type  string                 `json:"type"`
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}
