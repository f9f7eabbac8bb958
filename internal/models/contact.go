package models

import "time"

// Contact maps a canonical phone address to a platform user.
type Contact struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Address   string `gorm:"size:20;not null;uniqueIndex"`
	UserID    string `gorm:"size:64;not null;index"`
	Number    string `gorm:"size:32"`
	Name      string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
