package models

import "time"

// Delivery records one outbound broadcast or mention message.
type Delivery struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	InvocationID string `gorm:"size:36;not null;uniqueIndex"`
	ChatID       string `gorm:"size:128;not null;index"`
	Kind         string `gorm:"size:16;not null"`
	SenderID     string `gorm:"size:64"`
	Recipients   int
	Failed       int
	CreatedAt    time.Time `gorm:"index"`
}
