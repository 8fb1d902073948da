package models

import "time"

// DeliveryLogStatus for delivery attempts.
const (
	DeliveryLogStatusSent   = "sent"
	DeliveryLogStatusFailed = "failed"
)

// DeliveryLog records one attempt to deliver an entry code.
type DeliveryLog struct {
	ID             int64     `json:"id"`
	EventID        int64     `json:"event_id"`
	AttendeeID     int64     `json:"attendee_id"`
	RecipientEmail string    `json:"recipient_email"`
	Status         string    `json:"status"`
	Attempt        int       `json:"attempt"`
	ObjectKey      string    `json:"object_key,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
