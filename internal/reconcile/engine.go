// Package reconcile merges the payment gateway's transaction feed into the
// store and provisions attendees for newly captured registrations.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/gateway"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/internal/normalize"
	"github.com/Infix8/qrflow-backend/internal/payments"
)

var (
	// ErrRunInProgress is returned when another reconciliation run holds the run lock.
	ErrRunInProgress = errors.New("reconciliation already running")
	// ErrUpstreamFetch wraps gateway failures that abort a whole run.
	ErrUpstreamFetch = errors.New("payment gateway unavailable")
	// ErrMalformedTransaction marks a transaction whose metadata cannot be applied.
	ErrMalformedTransaction = errors.New("malformed transaction")
)

// Triggers recorded on a Result.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerWebhook   = "webhook"
)

// Gateway is the external transaction feed.
type Gateway interface {
	List(ctx context.Context, from, to time.Time) ([]gateway.Transaction, []gateway.DecodeFailure, error)
	Fetch(ctx context.Context, id string) (*gateway.Transaction, error)
}

// PaymentStore persists payment records.
type PaymentStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	Update(ctx context.Context, p *models.Payment) error
	Provision(ctx context.Context, p *models.Payment, candidate *models.Attendee) (*payments.Provisioned, error)
}

// AttendeeStore records token issuance and delivery outcomes.
type AttendeeStore interface {
	SaveToken(ctx context.Context, id int64, token string, at time.Time) error
	RecordDelivery(ctx context.Context, id int64, at time.Time, cause error) error
}

// EventFinder resolves target events.
type EventFinder interface {
	GetByID(ctx context.Context, id int64) (*models.Event, error)
}

// Issuer signs entry tokens.
type Issuer interface {
	Issue(eventID, attendeeID int64, email, rollNumber string, eventDate time.Time) (string, error)
}

// Dispatcher hands an attendee with a fresh token to the delivery path.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *models.Event, a *models.Attendee) error
}

// Config tunes relevance filtering and defaults.
type Config struct {
	DefaultEventID int64
	Marker         string
	MetadataKeys   []string
	Window         time.Duration
}

// Engine runs reconciliation. Scheduled and on-demand runs share Reconcile.
type Engine struct {
	gw         Gateway
	payments   PaymentStore
	attendees  AttendeeStore
	events     EventFinder
	issuer     Issuer
	dispatcher Dispatcher
	cfg        Config
	lock       RunLock
	now        func() time.Time
	logger     *zap.Logger
}

// Deps groups the collaborators of an Engine.
type Deps struct {
	Gateway    Gateway
	Payments   PaymentStore
	Attendees  AttendeeStore
	Events     EventFinder
	Issuer     Issuer
	Dispatcher Dispatcher // optional
	Lock       RunLock    // optional; defaults to an in-process lock
	Now        func() time.Time
	Logger     *zap.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(d Deps, cfg Config) *Engine {
	e := &Engine{
		gw:         d.Gateway,
		payments:   d.Payments,
		attendees:  d.Attendees,
		events:     d.Events,
		issuer:     d.Issuer,
		dispatcher: d.Dispatcher,
		cfg:        cfg,
		lock:       d.Lock,
		now:        d.Now,
		logger:     d.Logger,
	}
	if e.lock == nil {
		e.lock = NewLocalLock()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.cfg.Window <= 0 {
		e.cfg.Window = 24 * time.Hour
	}
	return e
}

// unknownPaymentID labels a listed entity whose id could not be read.
const unknownPaymentID = "unknown"

// Run reconciles the configured trailing window ending now.
func (e *Engine) Run(ctx context.Context, trigger string) (*Result, error) {
	to := e.now()
	return e.Reconcile(ctx, Window{From: to.Add(-e.cfg.Window), To: to}, trigger)
}

// Reconcile fetches the window, filters relevant transactions and upserts each
// one. Only one run proceeds at a time; a concurrent caller gets ErrRunInProgress.
func (e *Engine) Reconcile(ctx context.Context, w Window, trigger string) (*Result, error) {
	release, ok, err := e.lock.TryAcquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	defer release()

	res := newResult(trigger, w, e.now())
	txs, failures, err := e.gw.List(ctx, w.From, w.To)
	if err != nil {
		res.FinishedAt = e.now()
		e.logger.Error("reconcile: gateway fetch failed", zap.String("trigger", trigger), zap.Error(err))
		return res, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}
	res.Fetched = len(txs) + len(failures)
	for _, f := range failures {
		id := f.ID
		if id == "" {
			id = unknownPaymentID
		}
		res.fail(id, KindMalformed, fmt.Errorf("%w: %v", ErrMalformedTransaction, f.Err))
	}
	for i := range txs {
		if !e.Relevant(&txs[i]) {
			continue
		}
		res.Relevant++
		e.apply(ctx, &txs[i], res)
	}
	res.FinishedAt = e.now()
	e.logSummary(res)
	return res, nil
}

// ReconcileOne applies a single transaction fetched by id, for webhooks. It
// runs outside the run lock; provisioning tolerates the overlap.
func (e *Engine) ReconcileOne(ctx context.Context, paymentID string) (*Result, error) {
	now := e.now()
	res := newResult(TriggerWebhook, Window{From: now, To: now}, now)
	tx, err := e.gw.Fetch(ctx, paymentID)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUpstreamFetch, err)
	}
	res.Fetched = 1
	if e.Relevant(tx) {
		res.Relevant = 1
		e.apply(ctx, tx, res)
	}
	res.FinishedAt = e.now()
	e.logSummary(res)
	return res, nil
}

// Relevant reports whether tx came from this system's intake form.
func (e *Engine) Relevant(tx *gateway.Transaction) bool {
	if e.cfg.Marker != "" && tx.Description == e.cfg.Marker {
		return true
	}
	for _, k := range e.cfg.MetadataKeys {
		if _, ok := tx.Notes[k]; ok {
			return true
		}
	}
	return false
}

// apply upserts one transaction. Every failure is recorded on res and leaves
// the stored rows as they were.
func (e *Engine) apply(ctx context.Context, tx *gateway.Transaction, res *Result) {
	existing, err := e.payments.GetByExternalID(ctx, tx.ID)
	if err == nil {
		e.update(ctx, existing, tx, res)
		return
	}
	if !errors.Is(err, models.ErrNotFound) {
		res.fail(tx.ID, KindStorage, err)
		return
	}

	eventID, err := e.eventIDFor(tx)
	if err != nil {
		res.fail(tx.ID, KindMalformed, err)
		return
	}
	event, err := e.events.GetByID(ctx, eventID)
	if errors.Is(err, models.ErrNotFound) {
		res.fail(tx.ID, KindMalformed, fmt.Errorf("%w: unknown event %d", ErrMalformedTransaction, eventID))
		return
	}
	if err != nil {
		res.fail(tx.ID, KindStorage, err)
		return
	}

	pay := e.newPayment(tx, eventID)
	prov, err := e.payments.Provision(ctx, pay, e.candidate(tx, pay))
	if err != nil {
		res.fail(tx.ID, KindStorage, err)
		return
	}
	if !prov.PaymentCreated {
		// Another writer created it between our lookup and insert.
		existing, err := e.payments.GetByExternalID(ctx, tx.ID)
		if err != nil {
			res.fail(tx.ID, KindStorage, err)
			return
		}
		e.update(ctx, existing, tx, res)
		return
	}
	res.Created++
	if prov.AttendeeCreated {
		res.AttendeesCreated++
		e.issueAndDispatch(ctx, event, prov.Attendee, tx.ID, res)
	}
}

func (e *Engine) update(ctx context.Context, existing *models.Payment, tx *gateway.Transaction, res *Result) {
	next := *existing
	next.OrderID = tx.OrderID
	next.Amount = tx.Amount
	if tx.Currency != "" {
		next.Currency = tx.Currency
	}
	next.Status = MapStatus(tx.Status)
	next.CustomerName = customerName(tx)
	next.CustomerEmail = tx.Email
	next.CustomerPhone = customerPhone(tx)
	if next.Status == models.PaymentStatusCaptured && existing.Status != models.PaymentStatusCaptured {
		now := e.now()
		next.CapturedAt = &now
	}
	if samePayment(existing, &next) {
		res.Unchanged++
		return
	}
	if err := e.payments.Update(ctx, &next); err != nil {
		res.fail(tx.ID, KindStorage, err)
		return
	}
	res.Updated++
}

func (e *Engine) issueAndDispatch(ctx context.Context, event *models.Event, a *models.Attendee, paymentID string, res *Result) {
	token, err := e.issuer.Issue(event.ID, a.ID, a.Email, a.RollNumber, event.Date)
	if err != nil {
		res.fail(paymentID, KindToken, err)
		return
	}
	at := e.now()
	if err := e.attendees.SaveToken(ctx, a.ID, token, at); err != nil {
		res.fail(paymentID, KindStorage, fmt.Errorf("save token: %w", err))
		return
	}
	a.Token = token
	a.TokenIssued = true
	a.TokenIssuedAt = &at

	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.Dispatch(ctx, event, a); err != nil {
		res.fail(paymentID, KindDelivery, err)
		if recErr := e.attendees.RecordDelivery(ctx, a.ID, e.now(), err); recErr != nil {
			e.logger.Warn("record delivery failure", zap.Int64("attendee_id", a.ID), zap.Error(recErr))
		}
	}
}

func (e *Engine) eventIDFor(tx *gateway.Transaction) (int64, error) {
	raw := tx.Note("event_id")
	if raw == "" {
		return e.cfg.DefaultEventID, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: event_id %q", ErrMalformedTransaction, raw)
	}
	return id, nil
}

func (e *Engine) newPayment(tx *gateway.Transaction, eventID int64) *models.Payment {
	p := &models.Payment{
		ExternalID:    tx.ID,
		OrderID:       tx.OrderID,
		EventID:       eventID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        MapStatus(tx.Status),
		CustomerName:  customerName(tx),
		CustomerEmail: tx.Email,
		CustomerPhone: customerPhone(tx),
		Metadata:      tx.RawNotes,
	}
	if p.Currency == "" {
		p.Currency = "INR"
	}
	if p.Status == models.PaymentStatusCaptured {
		now := e.now()
		p.CapturedAt = &now
	}
	return p
}

// candidate builds the attendee to provision for a captured registration, or
// nil when the metadata lacks a name or roll number.
func (e *Engine) candidate(tx *gateway.Transaction, p *models.Payment) *models.Attendee {
	name := customerName(tx)
	roll := tx.Note("roll_number")
	if p.Status != models.PaymentStatusCaptured || name == "" || roll == "" {
		return nil
	}
	branch := strings.ToUpper(tx.Note("department"))
	if branch == "" {
		branch = "UNKNOWN"
	}
	gender := tx.Note("gender")
	if gender == "" {
		gender = models.DefaultGender
	}
	year := tx.Note("year_of_study")
	if year == "" {
		year = tx.Note("year")
	}
	return &models.Attendee{
		EventID:    p.EventID,
		Name:       name,
		Email:      tx.Email,
		RollNumber: roll,
		Branch:     branch,
		Year:       normalize.Year(year),
		Section:    normalize.Section(tx.Note("section")),
		Phone:      customerPhone(tx),
		Gender:     gender,
	}
}

// MapStatus folds gateway statuses into the four stored ones.
func MapStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "captured":
		return models.PaymentStatusCaptured
	case "failed":
		return models.PaymentStatusFailed
	case "refunded":
		return models.PaymentStatusRefunded
	default:
		return models.PaymentStatusPending
	}
}

func customerName(tx *gateway.Transaction) string {
	name := tx.Note("name")
	if strings.EqualFold(name, "unknown") {
		return ""
	}
	return name
}

func customerPhone(tx *gateway.Transaction) string {
	if phone := tx.Note("phone"); phone != "" {
		return phone
	}
	return tx.Contact
}

func samePayment(a, b *models.Payment) bool {
	return a.OrderID == b.OrderID &&
		a.Amount == b.Amount &&
		a.Currency == b.Currency &&
		a.Status == b.Status &&
		a.CustomerName == b.CustomerName &&
		a.CustomerEmail == b.CustomerEmail &&
		a.CustomerPhone == b.CustomerPhone &&
		sameTime(a.CapturedAt, b.CapturedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (e *Engine) logSummary(res *Result) {
	fields := []zap.Field{
		zap.String("trigger", res.Trigger),
		zap.Int("fetched", res.Fetched),
		zap.Int("relevant", res.Relevant),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("attendees_created", res.AttendeesCreated),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)),
	}
	e.logger.Info("reconcile finished", fields...)
	for _, te := range res.Errors {
		e.logger.Warn("reconcile transaction failed",
			zap.String("payment_id", te.PaymentID),
			zap.String("kind", string(te.Kind)),
			zap.String("error", te.Message),
		)
	}
}
