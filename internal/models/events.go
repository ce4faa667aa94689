package models

import "time"

// Event types
const (
	EventTypeSMSCodeRequested     = "SMS_CODE_REQUESTED"
	EventTypeEmailVerifyRequested = "EMAIL_VERIFY_REQUESTED"
	EventTypeOrderPlaced          = "ORDER_PLACED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SMSCodeEvent asks the notification worker to deliver a verification code
type SMSCodeEvent struct {
	BaseEvent
	Mobile     string `json:"mobile"`
	Code       string `json:"code"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// EmailVerifyEvent asks the notification worker to deliver a verification mail
type EmailVerifyEvent struct {
	BaseEvent
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	VerifyURL string `json:"verify_url"`
}

// OrderPlacedEvent is published after a settlement commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	UserID      int64  `json:"user_id"`
	TotalCount  int    `json:"total_count"`
	TotalAmount int64  `json:"total_amount"`
}
