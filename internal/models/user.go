package models

import "time"

// Role represents an operator role.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleOrganizer Role = "organizer"
)

// Operator is a staff user allowed to run the gate and manage attendees.
type Operator struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	ClubID    *int64    `json:"club_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OperatorPublic is Operator without sensitive fields for API responses.
type OperatorPublic struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
	ClubID   *int64 `json:"club_id,omitempty"`
}

// ToPublic converts Operator to OperatorPublic.
func (o *Operator) ToPublic() OperatorPublic {
	return OperatorPublic{
		ID:       o.ID,
		Username: o.Username,
		Email:    o.Email,
		FullName: o.FullName,
		Role:     o.Role,
		ClubID:   o.ClubID,
	}
}

// Actor is the authenticated identity attached to a request.
type Actor struct {
	OperatorID int64
	Role       Role
	ClubID     *int64
}

// CanAccess reports whether the actor may operate on the event.
// Admins see every event; organizers only their own club's.
func (a Actor) CanAccess(e *Event) bool {
	if a.Role == RoleAdmin {
		return true
	}
	if e == nil || a.ClubID == nil {
		return false
	}
	return *a.ClubID == e.ClubID
}
