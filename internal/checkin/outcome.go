package checkin

import (
	"fmt"
	"time"

	"github.com/Infix8/qrflow-backend/internal/models"
)

// Status tags every admission outcome. Failures are data, not errors.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusAlreadyAdmitted Status = "already_admitted"
	StatusInvalidToken    Status = "invalid_token"
	StatusExpiredToken    Status = "expired_token"
	StatusForbidden       Status = "forbidden"
	StatusNotFound        Status = "not_found"
	StatusStorageError    Status = "storage_error"
)

// TimeLayout is how admission times are shown to gate operators.
const TimeLayout = "03:04 PM on 02 Jan 2006"

const (
	msgInvalid          = "Invalid QR code - Please scan a valid QR code"
	msgExpired          = "QR code has expired - Please request a new QR code"
	msgForbidden        = "Access denied - You are not authorized for this event"
	msgAttendeeNotFound = "Attendee not found - Please contact organizer"
	msgEventNotFound    = "Event not found - Please contact organizer"
	msgStorage          = "Check-in could not be saved - Please try again"
)

// Result is the outcome of an admission attempt.
type Result struct {
	Status            Status           `json:"status"`
	Message           string           `json:"message"`
	Attendee          *models.Attendee `json:"attendee,omitempty"`
	EventName         string           `json:"event_name,omitempty"`
	AdmittedAt        *time.Time       `json:"admitted_at,omitempty"`
	AdmittedAtDisplay string           `json:"admitted_at_display,omitempty"`
}

// OK reports whether this call performed the admission.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Retryable reports whether the same request may succeed if repeated.
func (r Result) Retryable() bool { return r.Status == StatusStorageError }

// Inspection reports the current admission state without changing it.
type Inspection struct {
	Decoded           bool             `json:"decoded"`
	Status            Status           `json:"status"`
	Message           string           `json:"message"`
	Attendee          *models.Attendee `json:"attendee,omitempty"`
	EventName         string           `json:"event_name,omitempty"`
	AlreadyAdmitted   bool             `json:"already_admitted"`
	AdmittedAt        *time.Time       `json:"admitted_at,omitempty"`
	AdmittedAtDisplay string           `json:"admitted_at_display,omitempty"`
}

// Admissible reports whether admit would currently succeed.
func (i Inspection) Admissible() bool {
	return i.Status == StatusSuccess && !i.AlreadyAdmitted
}

func failure(status Status, msg string) Result {
	return Result{Status: status, Message: msg}
}

func (m *Machine) formatTime(t time.Time) string {
	return t.In(m.loc).Format(TimeLayout)
}

func (m *Machine) alreadyAdmitted(e *models.Event, a models.Attendee) Result {
	r := Result{Status: StatusAlreadyAdmitted, Attendee: &a, EventName: e.Name, AdmittedAt: a.AdmittedAt}
	when := "an earlier time"
	if a.AdmittedAt != nil {
		r.AdmittedAtDisplay = m.formatTime(*a.AdmittedAt)
		when = r.AdmittedAtDisplay
	}
	r.Message = fmt.Sprintf("%s (Roll: %s) is already checked in at %s", a.Name, a.RollNumber, when)
	return r
}

func (m *Machine) admitted(e *models.Event, a models.Attendee) Result {
	r := Result{Status: StatusSuccess, Attendee: &a, EventName: e.Name, AdmittedAt: a.AdmittedAt}
	if a.AdmittedAt != nil {
		r.AdmittedAtDisplay = m.formatTime(*a.AdmittedAt)
	}
	r.Message = fmt.Sprintf("Check-in successful! %s (Roll: %s, %s) admitted at %s",
		a.Name, a.RollNumber, a.Branch, r.AdmittedAtDisplay)
	return r
}
