package attendees

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/events"
	"github.com/Infix8/qrflow-backend/internal/middleware"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/internal/normalize"
	"github.com/Infix8/qrflow-backend/pkg/database"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// maxReportedErrors bounds the error list in a bulk issuance report.
const maxReportedErrors = 20

// Store is the attendee persistence the handler needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (*models.Attendee, error)
	ListByEvent(ctx context.Context, eventID int64) ([]models.Attendee, error)
	ListPendingDelivery(ctx context.Context, eventID int64) ([]models.Attendee, error)
	Create(ctx context.Context, a *models.Attendee) error
}

// TokenIssuer ensures an attendee holds a stored token.
type TokenIssuer interface {
	EnsureToken(ctx context.Context, ev *models.Event, a *models.Attendee) error
}

// Dispatcher hands an attendee to the delivery path.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *models.Event, a *models.Attendee) error
}

// Handler serves attendee listing, registration and code delivery.
type Handler struct {
	store      Store
	events     events.Finder
	issuer     TokenIssuer
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewHandler creates an attendees handler.
func NewHandler(store Store, eventFinder events.Finder, issuer TokenIssuer, dispatcher Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, events: eventFinder, issuer: issuer, dispatcher: dispatcher, logger: logger}
}

// ListByEvent handles GET /events/:id/attendees.
func (h *Handler) ListByEvent(c *gin.Context) {
	e := events.FromContext(c)
	list, err := h.store.ListByEvent(c.Request.Context(), e.ID)
	if err != nil {
		h.logger.Error("list attendees", zap.Int64("event_id", e.ID), zap.Error(err))
		response.Internal(c, "failed to list attendees")
		return
	}
	if list == nil {
		list = []models.Attendee{}
	}
	response.OK(c, list)
}

// CreateRequest is the body for POST /events/:id/attendees.
type CreateRequest struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"omitempty,email"`
	RollNumber string `json:"roll_number" binding:"required"`
	Branch     string `json:"branch"`
	Year       string `json:"year"`
	Section    string `json:"section"`
	Phone      string `json:"phone"`
	Gender     string `json:"gender"`
}

// Create handles POST /events/:id/attendees: a walk-in or manual registration.
// Year and section accept the same free text as gateway metadata.
func (h *Handler) Create(c *gin.Context) {
	e := events.FromContext(c)
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name and roll_number are required")
		return
	}
	a := &models.Attendee{
		EventID:    e.ID,
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		RollNumber: strings.TrimSpace(req.RollNumber),
		Branch:     strings.ToUpper(strings.TrimSpace(req.Branch)),
		Year:       normalize.Year(req.Year),
		Section:    normalize.Section(req.Section),
		Phone:      strings.TrimSpace(req.Phone),
		Gender:     strings.TrimSpace(req.Gender),
	}
	if a.Branch == "" {
		a.Branch = "UNKNOWN"
	}
	if a.Gender == "" {
		a.Gender = models.DefaultGender
	}
	if err := h.store.Create(c.Request.Context(), a); err != nil {
		if database.IsUniqueViolation(err) {
			response.Conflict(c, "roll number already registered for this event")
			return
		}
		h.logger.Error("create attendee", zap.Int64("event_id", e.ID), zap.Error(err))
		response.Internal(c, "failed to create attendee")
		return
	}
	response.Created(c, a)
}

// IssueReport summarizes a bulk issuance.
type IssueReport struct {
	Pending int      `json:"pending"`
	Issued  int      `json:"issued"`
	Queued  int      `json:"queued"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

func (r *IssueReport) fail(a *models.Attendee, err error) {
	r.Failed++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("%s (%s): %v", a.Name, a.RollNumber, err))
	}
}

// IssueTokens handles POST /events/:id/tokens: issue missing tokens and queue
// delivery for every attendee who has not received a code yet.
func (h *Handler) IssueTokens(c *gin.Context) {
	e := events.FromContext(c)
	ctx := c.Request.Context()
	pending, err := h.store.ListPendingDelivery(ctx, e.ID)
	if err != nil {
		h.logger.Error("list pending attendees", zap.Int64("event_id", e.ID), zap.Error(err))
		response.Internal(c, "failed to list attendees")
		return
	}
	report := IssueReport{Pending: len(pending), Errors: []string{}}
	for i := range pending {
		a := &pending[i]
		hadToken := a.TokenIssued && a.Token != ""
		if err := h.issuer.EnsureToken(ctx, e, a); err != nil {
			report.fail(a, err)
			continue
		}
		if !hadToken {
			report.Issued++
		}
		if err := h.dispatcher.Dispatch(ctx, e, a); err != nil {
			report.fail(a, err)
			continue
		}
		report.Queued++
	}
	h.logger.Info("bulk token issuance",
		zap.Int64("event_id", e.ID),
		zap.Int("pending", report.Pending),
		zap.Int("issued", report.Issued),
		zap.Int("queued", report.Queued),
		zap.Int("failed", report.Failed),
	)
	response.OK(c, report)
}

// Resend handles POST /attendees/:id/resend.
func (h *Handler) Resend(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid attendee id")
		return
	}
	ctx := c.Request.Context()
	a, err := h.store.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "attendee not found")
		return
	}
	if err != nil {
		h.logger.Error("load attendee", zap.Int64("attendee_id", id), zap.Error(err))
		response.Internal(c, "failed to load attendee")
		return
	}
	e, err := h.events.GetByID(ctx, a.EventID)
	if err != nil {
		h.logger.Error("load event", zap.Int64("event_id", a.EventID), zap.Error(err))
		response.Internal(c, "failed to load event")
		return
	}
	actor, _ := middleware.ActorFrom(c)
	if !actor.CanAccess(e) {
		response.Forbidden(c, "not authorized for this event")
		return
	}
	if a.Email == "" {
		response.BadRequest(c, "attendee has no email address")
		return
	}
	if err := h.issuer.EnsureToken(ctx, e, a); err != nil {
		h.logger.Error("issue token", zap.Int64("attendee_id", id), zap.Error(err))
		response.Internal(c, "failed to issue token")
		return
	}
	if err := h.dispatcher.Dispatch(ctx, e, a); err != nil {
		h.logger.Error("queue delivery", zap.Int64("attendee_id", id), zap.Error(err))
		response.ServiceUnavailable(c, "delivery queue unavailable")
		return
	}
	response.OK(c, gin.H{"attendee_id": a.ID, "queued": true})
}
