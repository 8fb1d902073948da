package models

import "time"

// Club owns events; organizer operators are scoped to one club.
type Club struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
