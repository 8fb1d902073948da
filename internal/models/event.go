package models

import "time"

// Event is a ticketed gathering whose attendees are admitted at the gate.
type Event struct {
	ID          int64     `json:"id"`
	ClubID      int64     `json:"club_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Date        time.Time `json:"date"`
	Venue       string    `json:"venue"`
	CreatedBy   *int64    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
