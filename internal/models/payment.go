package models

import (
	"encoding/json"
	"time"
)

// PaymentStatus values stored on a payment record.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusCaptured = "captured"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Payment is one external gateway transaction as known to the store.
// ExternalID is the natural key; there is exactly one row per ExternalID.
type Payment struct {
	ID            int64           `json:"id"`
	ExternalID    string          `json:"external_id"`
	OrderID       string          `json:"order_id,omitempty"`
	EventID       int64           `json:"event_id"`
	AttendeeID    *int64          `json:"attendee_id,omitempty"`
	Amount        int64           `json:"amount"` // minor units (paise)
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	CustomerPhone string          `json:"customer_phone"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CapturedAt    *time.Time      `json:"captured_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
