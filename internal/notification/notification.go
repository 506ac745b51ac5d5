package notification

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAchievementUnlocked Type = "achievement_unlocked"
	TypeRedemptionFulfilled Type = "redemption_fulfilled"
	TypeRedemptionExpired   Type = "redemption_expired"
)

type Notification struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Type      Type           `json:"type" db:"type"`
	Title     string         `json:"title" db:"title"`
	Body      string         `json:"body" db:"body"`
	Data      map[string]any `json:"data,omitempty" db:"data"`
	ReadAt    *time.Time     `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

type DeviceToken struct {
	UserID   string `json:"user_id" db:"user_id"`
	Token    string `json:"token" db:"token"`
	Platform string `json:"platform" db:"platform"`
}

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type ListResponse struct {
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int             `json:"unread_count"`
}
