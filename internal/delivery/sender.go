// Package delivery renders entry codes and sends them to attendees.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/queue"
)

// ErrNoRecipient is returned for attendees without an email address.
var ErrNoRecipient = errors.New("attendee has no email address")

// Permanent reports whether retrying a failed delivery cannot help.
func Permanent(err error) bool {
	return errors.Is(err, models.ErrNotFound) || errors.Is(err, ErrNoRecipient)
}

// AttendeeStore is the attendee persistence the sender needs.
type AttendeeStore interface {
	GetByID(ctx context.Context, id int64) (*models.Attendee, error)
	SaveToken(ctx context.Context, id int64, token string, at time.Time) error
	RecordDelivery(ctx context.Context, id int64, at time.Time, cause error) error
}

// EventFinder loads events.
type EventFinder interface {
	GetByID(ctx context.Context, id int64) (*models.Event, error)
}

// Issuer signs entry tokens.
type Issuer interface {
	Issue(eventID, attendeeID int64, email, rollNumber string, eventDate time.Time) (string, error)
}

// Archiver stores rendered codes and links to them.
type Archiver interface {
	ArchiveCode(ctx context.Context, eventID, attendeeID int64, png []byte) (string, error)
	CodeURL(ctx context.Context, key string) (string, error)
}

// LogStore records delivery attempts.
type LogStore interface {
	Create(ctx context.Context, l *models.DeliveryLog) error
}

// SenderDeps groups the collaborators of a Sender. Archiver and Logs are optional.
type SenderDeps struct {
	Attendees AttendeeStore
	Events    EventFinder
	Issuer    Issuer
	Mailer    Mailer
	Archiver  Archiver
	Logs      LogStore
	Location  *time.Location
	Now       func() time.Time
	Logger    *zap.Logger
}

// Sender issues tokens on demand and delivers entry codes.
type Sender struct {
	SenderDeps
}

// NewSender creates a Sender.
func NewSender(d SenderDeps) *Sender {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Sender{SenderDeps: d}
}

// EnsureToken issues and stores a token for a unless one was issued already.
// a is updated in place.
func (s *Sender) EnsureToken(ctx context.Context, ev *models.Event, a *models.Attendee) error {
	if a.TokenIssued && a.Token != "" {
		return nil
	}
	token, err := s.Issuer.Issue(ev.ID, a.ID, a.Email, a.RollNumber, ev.Date)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	at := s.Now()
	if err := s.Attendees.SaveToken(ctx, a.ID, token, at); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	a.Token = token
	a.TokenIssued = true
	a.TokenIssuedAt = &at
	return nil
}

// Deliver renders and sends the entry code for one attendee. attempt is
// 1-based and only recorded in the delivery log.
func (s *Sender) Deliver(ctx context.Context, attendeeID int64, attempt int) error {
	a, err := s.Attendees.GetByID(ctx, attendeeID)
	if err != nil {
		return fmt.Errorf("load attendee %d: %w", attendeeID, err)
	}
	ev, err := s.Events.GetByID(ctx, a.EventID)
	if err != nil {
		return fmt.Errorf("load event %d: %w", a.EventID, err)
	}
	if a.Email == "" {
		return s.finish(ctx, ev, a, attempt, "", ErrNoRecipient)
	}
	if err := s.EnsureToken(ctx, ev, a); err != nil {
		return err
	}
	png, err := RenderCode(a.Token)
	if err != nil {
		return err
	}

	var key, link string
	if s.Archiver != nil {
		key, err = s.Archiver.ArchiveCode(ctx, ev.ID, a.ID, png)
		if err != nil {
			s.Logger.Warn("archive code failed", zap.Int64("attendee_id", a.ID), zap.Error(err))
			key = ""
		} else if link, err = s.Archiver.CodeURL(ctx, key); err != nil {
			s.Logger.Warn("presign code failed", zap.String("key", key), zap.Error(err))
			link = ""
		}
	}

	msg, err := ComposePass(ev, a, png, link, s.Location)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	return s.finish(ctx, ev, a, attempt, key, s.Mailer.Send(ctx, msg))
}

func (s *Sender) finish(ctx context.Context, ev *models.Event, a *models.Attendee, attempt int, key string, sendErr error) error {
	if err := s.Attendees.RecordDelivery(ctx, a.ID, s.Now(), sendErr); err != nil {
		s.Logger.Error("record delivery failed", zap.Int64("attendee_id", a.ID), zap.Error(err))
	}
	if s.Logs != nil {
		l := &models.DeliveryLog{
			EventID:        ev.ID,
			AttendeeID:     a.ID,
			RecipientEmail: a.Email,
			Status:         models.DeliveryLogStatusSent,
			Attempt:        attempt,
			ObjectKey:      key,
		}
		if sendErr != nil {
			l.Status = models.DeliveryLogStatusFailed
			l.ErrorMessage = sendErr.Error()
		}
		if err := s.Logs.Create(ctx, l); err != nil {
			s.Logger.Warn("write delivery log failed", zap.Int64("attendee_id", a.ID), zap.Error(err))
		}
	}
	if sendErr != nil {
		return sendErr
	}
	s.Logger.Info("entry code delivered", zap.Int64("event_id", ev.ID), zap.Int64("attendee_id", a.ID), zap.Int("attempt", attempt))
	return nil
}

// Enqueuer accepts delivery jobs.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, payload queue.DeliveryPayload) error
}

// QueueDispatcher hands attendees to the delivery worker.
type QueueDispatcher struct {
	q      Enqueuer
	reason string
}

// NewQueueDispatcher creates a dispatcher that tags jobs with reason.
func NewQueueDispatcher(q Enqueuer, reason string) *QueueDispatcher {
	return &QueueDispatcher{q: q, reason: reason}
}

// Dispatch enqueues a delivery job for a.
func (d *QueueDispatcher) Dispatch(ctx context.Context, ev *models.Event, a *models.Attendee) error {
	return d.q.EnqueueDelivery(ctx, queue.DeliveryPayload{EventID: ev.ID, AttendeeID: a.ID, Reason: d.reason})
}
