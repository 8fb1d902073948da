// Package checkin admits attendees at the gate exactly once.
package checkin

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/attendees"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/internal/tokens"
)

// Verifier decodes entry tokens.
type Verifier interface {
	Verify(token string) (*tokens.Claims, error)
}

// EventFinder resolves the event a token or attendee belongs to.
type EventFinder interface {
	GetByID(ctx context.Context, id int64) (*models.Event, error)
}

// AttendeeStore reads attendees and provides the per-attendee admission lock.
type AttendeeStore interface {
	GetByID(ctx context.Context, id int64) (*models.Attendee, error)
	WithAdmissionLock(ctx context.Context, id int64, fn func(attendees.Locked) error) error
}

// Notifier is told about every successful admission after the lock is released.
type Notifier interface {
	AttendeeAdmitted(ctx context.Context, event *models.Event, a models.Attendee)
}

// Machine drives the NOT_ADMITTED -> ADMITTED transition.
type Machine struct {
	verifier  Verifier
	events    EventFinder
	attendees AttendeeStore
	notifier  Notifier
	now       func() time.Time
	loc       *time.Location
	logger    *zap.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the service clock used to stamp admissions.
func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

// WithLocation sets the timezone admission times are displayed in.
func WithLocation(loc *time.Location) Option { return func(m *Machine) { m.loc = loc } }

// WithNotifier registers a listener for successful admissions.
func WithNotifier(n Notifier) Option { return func(m *Machine) { m.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Machine) { m.logger = l } }

// NewMachine creates a check-in state machine.
func NewMachine(verifier Verifier, events EventFinder, store AttendeeStore, opts ...Option) *Machine {
	m := &Machine{
		verifier:  verifier,
		events:    events,
		attendees: store,
		now:       time.Now,
		loc:       time.UTC,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// Inspect decodes the token and reports the attendee's admission state. It never writes.
func (m *Machine) Inspect(ctx context.Context, token string, actor models.Actor) Inspection {
	claims, fail := m.decode(token)
	if fail != nil {
		return Inspection{Status: fail.Status, Message: fail.Message}
	}
	event, fail := m.authorize(ctx, claims.EventID, actor)
	if fail != nil {
		return Inspection{Decoded: true, Status: fail.Status, Message: fail.Message}
	}
	a, err := m.attendees.GetByID(ctx, claims.AttendeeID)
	if errors.Is(err, models.ErrNotFound) {
		return Inspection{Decoded: true, Status: StatusNotFound, Message: msgAttendeeNotFound, EventName: event.Name}
	}
	if err != nil {
		m.logger.Warn("inspect: load attendee", zap.Int64("attendee_id", claims.AttendeeID), zap.Error(err))
		return Inspection{Decoded: true, Status: StatusStorageError, Message: msgStorage, EventName: event.Name}
	}
	if a.EventID != event.ID {
		return Inspection{Decoded: true, Status: StatusInvalidToken, Message: msgInvalid, EventName: event.Name}
	}

	in := Inspection{
		Decoded:         true,
		Status:          StatusSuccess,
		Attendee:        a,
		EventName:       event.Name,
		AlreadyAdmitted: a.Admitted,
		AdmittedAt:      a.AdmittedAt,
		Message:         "Valid QR code - " + a.Name + " (Roll: " + a.RollNumber + ") can be admitted",
	}
	if a.Admitted {
		already := m.alreadyAdmitted(event, *a)
		in.Message = already.Message
		in.AdmittedAtDisplay = already.AdmittedAtDisplay
	}
	return in
}

// Admit validates the token and admits its attendee exactly once.
func (m *Machine) Admit(ctx context.Context, token string, actor models.Actor) Result {
	claims, fail := m.decode(token)
	if fail != nil {
		return *fail
	}
	event, fail := m.authorize(ctx, claims.EventID, actor)
	if fail != nil {
		return *fail
	}
	return m.admit(ctx, event, claims.AttendeeID, actor)
}

// AdmitManual admits an attendee by id, for codes that cannot be scanned.
// It shares the locking and transition rules of Admit.
func (m *Machine) AdmitManual(ctx context.Context, attendeeID int64, actor models.Actor) Result {
	a, err := m.attendees.GetByID(ctx, attendeeID)
	if errors.Is(err, models.ErrNotFound) {
		return failure(StatusNotFound, msgAttendeeNotFound)
	}
	if err != nil {
		m.logger.Warn("manual admit: load attendee", zap.Int64("attendee_id", attendeeID), zap.Error(err))
		return failure(StatusStorageError, msgStorage)
	}
	event, fail := m.authorize(ctx, a.EventID, actor)
	if fail != nil {
		return *fail
	}
	return m.admit(ctx, event, attendeeID, actor)
}

func (m *Machine) decode(token string) (*tokens.Claims, *Result) {
	claims, err := m.verifier.Verify(token)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, tokens.ErrExpiredToken) {
		r := failure(StatusExpiredToken, msgExpired)
		return nil, &r
	}
	r := failure(StatusInvalidToken, msgInvalid)
	return nil, &r
}

func (m *Machine) authorize(ctx context.Context, eventID int64, actor models.Actor) (*models.Event, *Result) {
	event, err := m.events.GetByID(ctx, eventID)
	if errors.Is(err, models.ErrNotFound) {
		r := failure(StatusNotFound, msgEventNotFound)
		return nil, &r
	}
	if err != nil {
		m.logger.Warn("load event", zap.Int64("event_id", eventID), zap.Error(err))
		r := failure(StatusStorageError, msgStorage)
		return nil, &r
	}
	if !actor.CanAccess(event) {
		r := failure(StatusForbidden, msgForbidden)
		r.EventName = event.Name
		return nil, &r
	}
	return event, nil
}

// admit runs the read-check-write sequence under the attendee lock. Any error
// from the store after the lock is taken discards the staged write; the store
// releases the lock on every path.
func (m *Machine) admit(ctx context.Context, event *models.Event, attendeeID int64, actor models.Actor) Result {
	var res Result
	err := m.attendees.WithAdmissionLock(ctx, attendeeID, func(row attendees.Locked) error {
		a := row.Snapshot()
		if a.EventID != event.ID {
			res = failure(StatusInvalidToken, msgInvalid)
			return nil
		}
		if a.Admitted {
			res = m.alreadyAdmitted(event, a)
			return nil
		}
		if err := row.MarkAdmitted(ctx, m.now(), actor.OperatorID); err != nil {
			return err
		}
		res = m.admitted(event, row.Snapshot())
		return nil
	})
	if errors.Is(err, models.ErrNotFound) {
		return failure(StatusNotFound, msgAttendeeNotFound)
	}
	if err != nil {
		m.logger.Warn("admission rolled back",
			zap.Int64("event_id", event.ID),
			zap.Int64("attendee_id", attendeeID),
			zap.Int64("operator_id", actor.OperatorID),
			zap.Error(err),
		)
		return failure(StatusStorageError, msgStorage)
	}

	switch res.Status {
	case StatusSuccess:
		m.logger.Info("attendee admitted",
			zap.Int64("event_id", event.ID),
			zap.Int64("attendee_id", attendeeID),
			zap.Int64("operator_id", actor.OperatorID),
		)
		if m.notifier != nil {
			m.notifier.AttendeeAdmitted(ctx, event, *res.Attendee)
		}
	case StatusAlreadyAdmitted:
		m.logger.Debug("duplicate admission", zap.Int64("attendee_id", attendeeID))
	}
	return res
}
