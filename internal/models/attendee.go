package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

// DefaultGender is stored when registration metadata does not carry one.
const DefaultGender = "Not Specified"

// Attendee is one registrant for one event.
type Attendee struct {
	ID         int64  `json:"id"`
	EventID    int64  `json:"event_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	RollNumber string `json:"roll_number"`
	Branch     string `json:"branch"`
	Year       int    `json:"year"`
	Section    string `json:"section"`
	Phone      string `json:"phone,omitempty"`
	Gender     string `json:"gender"`

	Token         string     `json:"-"`
	TokenIssued   bool       `json:"token_issued"`
	TokenIssuedAt *time.Time `json:"token_issued_at,omitempty"`

	Delivered     bool       `json:"delivered"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	DeliveryError *string    `json:"delivery_error,omitempty"`

	Admitted   bool       `json:"admitted"`
	AdmittedAt *time.Time `json:"admitted_at,omitempty"`
	AdmittedBy *int64     `json:"admitted_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsDelivery reports whether the attendee still has to receive an entry code.
func (a *Attendee) NeedsDelivery() bool {
	return !a.TokenIssued || !a.Delivered
}
