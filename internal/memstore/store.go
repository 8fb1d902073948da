// Package memstore is an in-memory implementation of the event, attendee and
// payment stores. Admission uses a per-attendee KeyedMutex in place of a row lock.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Infix8/qrflow-backend/internal/attendees"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/internal/payments"
)

// Store holds all rows behind one RWMutex.
type Store struct {
	mu        sync.RWMutex
	events    map[int64]models.Event
	attendees map[int64]models.Attendee
	payments  map[int64]models.Payment
	nextID    int64

	admission *KeyedMutex

	failAdmissions error
	failProvision  error
	failSaveToken  error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		events:    make(map[int64]models.Event),
		attendees: make(map[int64]models.Attendee),
		payments:  make(map[int64]models.Payment),
		admission: NewKeyedMutex(),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// FailAdmissions makes every MarkAdmitted return err (nil restores normal behaviour).
func (s *Store) FailAdmissions(err error) {
	s.mu.Lock()
	s.failAdmissions = err
	s.mu.Unlock()
}

// FailProvision makes every Provision return err.
func (s *Store) FailProvision(err error) {
	s.mu.Lock()
	s.failProvision = err
	s.mu.Unlock()
}

// FailSaveToken makes every SaveToken return err.
func (s *Store) FailSaveToken(err error) {
	s.mu.Lock()
	s.failSaveToken = err
	s.mu.Unlock()
}

// AddEvent inserts an event and returns it with its id.
func (s *Store) AddEvent(e models.Event) models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.id()
	s.events[e.ID] = e
	return e
}

// AddAttendee inserts an attendee, enforcing roll-number uniqueness per event.
func (s *Store) AddAttendee(a models.Attendee) (models.Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertAttendee(&a); err != nil {
		return models.Attendee{}, err
	}
	return a, nil
}

func (s *Store) insertAttendee(a *models.Attendee) error {
	for _, other := range s.attendees {
		if other.EventID == a.EventID && other.RollNumber == a.RollNumber {
			return &pgconn.PgError{
				Code:    "23505",
				Message: fmt.Sprintf("roll number %q already registered for event %d", a.RollNumber, a.EventID),
			}
		}
	}
	now := time.Now()
	a.ID = s.id()
	a.CreatedAt, a.UpdatedAt = now, now
	s.attendees[a.ID] = *a
	return nil
}

// Events exposes the event store.
func (s *Store) Events() *Events { return &Events{s: s} }

// Attendees exposes the attendee store.
func (s *Store) Attendees() *Attendees { return &Attendees{s: s} }

// Payments exposes the payment store.
func (s *Store) Payments() *Payments { return &Payments{s: s} }

// Events implements event lookups.
type Events struct{ s *Store }

// GetByID returns an event by ID.
func (e *Events) GetByID(_ context.Context, id int64) (*models.Event, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	ev, ok := e.s.events[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &ev, nil
}

// Attendees implements the attendee store.
type Attendees struct{ s *Store }

// GetByID returns an attendee by ID.
func (a *Attendees) GetByID(_ context.Context, id int64) (*models.Attendee, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	att, ok := a.s.attendees[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &att, nil
}

// ListByEvent returns the attendees of an event ordered by id.
func (a *Attendees) ListByEvent(_ context.Context, eventID int64) ([]models.Attendee, error) {
	return a.filter(func(x models.Attendee) bool { return x.EventID == eventID }), nil
}

// ListPendingDelivery returns attendees lacking a token or a delivered code.
func (a *Attendees) ListPendingDelivery(_ context.Context, eventID int64) ([]models.Attendee, error) {
	return a.filter(func(x models.Attendee) bool { return x.EventID == eventID && x.NeedsDelivery() }), nil
}

func (a *Attendees) filter(keep func(models.Attendee) bool) []models.Attendee {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	var out []models.Attendee
	for _, x := range a.s.attendees {
		if keep(x) {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Create inserts an attendee.
func (a *Attendees) Create(_ context.Context, att *models.Attendee) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.s.insertAttendee(att)
}

// SaveToken stores an issued token, enforcing token uniqueness.
func (a *Attendees) SaveToken(_ context.Context, id int64, token string, at time.Time) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.failSaveToken != nil {
		return a.s.failSaveToken
	}
	att, ok := a.s.attendees[id]
	if !ok {
		return models.ErrNotFound
	}
	for otherID, other := range a.s.attendees {
		if otherID != id && other.Token != "" && other.Token == token {
			return fmt.Errorf("token already assigned to attendee %d", otherID)
		}
	}
	att.Token = token
	att.TokenIssued = true
	att.TokenIssuedAt = &at
	att.UpdatedAt = time.Now()
	a.s.attendees[id] = att
	return nil
}

// RecordDelivery stores a delivery outcome.
func (a *Attendees) RecordDelivery(_ context.Context, id int64, at time.Time, cause error) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	att, ok := a.s.attendees[id]
	if !ok {
		return models.ErrNotFound
	}
	if cause == nil {
		att.Delivered = true
		att.DeliveredAt = &at
		att.DeliveryError = nil
	} else {
		msg := cause.Error()
		att.DeliveryError = &msg
	}
	att.UpdatedAt = time.Now()
	a.s.attendees[id] = att
	return nil
}

// WithAdmissionLock serializes fn per attendee id. Changes are staged on a copy
// and published only when fn returns nil.
func (a *Attendees) WithAdmissionLock(ctx context.Context, id int64, fn func(attendees.Locked) error) error {
	unlock := a.s.admission.Lock(id)
	defer unlock()

	a.s.mu.RLock()
	att, ok := a.s.attendees[id]
	a.s.mu.RUnlock()
	if !ok {
		return models.ErrNotFound
	}

	row := &lockedRow{s: a.s, a: att}
	if err := fn(row); err != nil {
		return err
	}
	if row.dirty {
		a.s.mu.Lock()
		a.s.attendees[id] = row.a
		a.s.mu.Unlock()
	}
	return nil
}

// AdmissionLocks reports how many per-attendee locks are outstanding.
func (a *Attendees) AdmissionLocks() int {
	return a.s.admission.Len()
}

type lockedRow struct {
	s     *Store
	a     models.Attendee
	dirty bool
}

func (l *lockedRow) Snapshot() models.Attendee { return l.a }

func (l *lockedRow) MarkAdmitted(_ context.Context, at time.Time, operatorID int64) error {
	l.s.mu.RLock()
	fail := l.s.failAdmissions
	l.s.mu.RUnlock()
	if fail != nil {
		return fail
	}
	if l.a.Admitted {
		return fmt.Errorf("attendee %d already admitted", l.a.ID)
	}
	// Postgres keeps microseconds.
	stored := at.UTC().Truncate(time.Microsecond)
	l.a.Admitted = true
	l.a.AdmittedAt = &stored
	l.a.AdmittedBy = &operatorID
	l.a.UpdatedAt = stored
	l.dirty = true
	return nil
}

// Payments implements the payment store.
type Payments struct{ s *Store }

// GetByID returns a payment by ID.
func (p *Payments) GetByID(_ context.Context, id int64) (*models.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	pay, ok := p.s.payments[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &pay, nil
}

// GetByExternalID returns the payment for a gateway payment id.
func (p *Payments) GetByExternalID(_ context.Context, externalID string) (*models.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	for _, pay := range p.s.payments {
		if pay.ExternalID == externalID {
			return &pay, nil
		}
	}
	return nil, models.ErrNotFound
}

// ListByEvent returns the payments of an event ordered by id.
func (p *Payments) ListByEvent(_ context.Context, eventID int64) ([]models.Payment, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	var out []models.Payment
	for _, pay := range p.s.payments {
		if pay.EventID == eventID {
			out = append(out, pay)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of stored payments.
func (p *Payments) Count() int {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	return len(p.s.payments)
}

// Update writes the mutable fields of an existing payment.
func (p *Payments) Update(_ context.Context, pay *models.Payment) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	cur, ok := p.s.payments[pay.ID]
	if !ok {
		return models.ErrNotFound
	}
	cur.OrderID = pay.OrderID
	cur.Amount = pay.Amount
	cur.Currency = pay.Currency
	cur.Status = pay.Status
	cur.CustomerName = pay.CustomerName
	cur.CustomerEmail = pay.CustomerEmail
	cur.CustomerPhone = pay.CustomerPhone
	cur.CapturedAt = pay.CapturedAt
	cur.UpdatedAt = time.Now()
	p.s.payments[pay.ID] = cur
	pay.UpdatedAt = cur.UpdatedAt
	return nil
}

// Provision mirrors the Postgres transaction: the payment, the attendee match
// or insert and the link all happen under the store lock or not at all.
func (p *Payments) Provision(_ context.Context, pay *models.Payment, candidate *models.Attendee) (*payments.Provisioned, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.s.failProvision != nil {
		return nil, p.s.failProvision
	}
	for _, existing := range p.s.payments {
		if existing.ExternalID == pay.ExternalID {
			return &payments.Provisioned{PaymentCreated: false}, nil
		}
	}
	if _, ok := p.s.events[pay.EventID]; !ok {
		return nil, fmt.Errorf("event %d does not exist", pay.EventID)
	}

	out := &payments.Provisioned{PaymentCreated: true}
	if candidate != nil {
		if match := p.matchAttendee(candidate); match != nil {
			out.Attendee = match
		} else {
			if err := p.s.insertAttendee(candidate); err != nil {
				return nil, err
			}
			out.Attendee = candidate
			out.AttendeeCreated = true
		}
		id := out.Attendee.ID
		pay.AttendeeID = &id
	}

	now := time.Now()
	pay.ID = p.s.id()
	pay.CreatedAt, pay.UpdatedAt = now, now
	if len(pay.Metadata) == 0 {
		pay.Metadata = []byte(`{}`)
	}
	p.s.payments[pay.ID] = *pay
	out.Payment = pay
	return out, nil
}

func (p *Payments) matchAttendee(c *models.Attendee) *models.Attendee {
	var best *models.Attendee
	for _, a := range p.s.attendees {
		if a.EventID != c.EventID {
			continue
		}
		if (c.Email != "" && a.Email == c.Email) || a.RollNumber == c.RollNumber {
			if best == nil || a.ID < best.ID {
				match := a
				best = &match
			}
		}
	}
	return best
}
