package models

import (
	"time"
)

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"unique;not null"          json:"username"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	// TokenVersion is compared against the "ver" claim of every bearer
	// token; bumping it invalidates all previously issued tokens.
	TokenVersion int `gorm:"not null;default:0" json:"-"`
}

type Chat struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	// ExpiresAt is null while the participants are in range or lack
	// location data; a past value means the chat is logically dead.
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

type ChatParticipant struct {
	ID     uint `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID uint `gorm:"index;not null"           json:"chat_id"`
	UserID uint `gorm:"index;not null"           json:"user_id"`
}

type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    uint      `gorm:"index;not null"           json:"chat_id"`
	UserID    uint      `gorm:"not null"                 json:"user_id"`
	Content   string    `gorm:"not null"                 json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Location struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"index;not null"           json:"user_id"`
	Latitude  float64   `gorm:"not null"                 json:"latitude"`
	Longitude float64   `gorm:"not null"                 json:"longitude"`
	SampledAt time.Time `gorm:"index;not null"           json:"sampled_at"`
}

type Block struct {
	ID        uint `gorm:"primaryKey;autoIncrement" json:"id"`
	BlockerID uint `gorm:"index;not null"           json:"blocker_id"`
	BlockedID uint `gorm:"index;not null"           json:"blocked_id"`
}
