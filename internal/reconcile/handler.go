package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/gateway"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// maxWebhookBody caps webhook payloads read into memory.
const maxWebhookBody = 1 << 20

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Razorpay-Signature"

// PaymentLookup reads a stored payment by gateway id.
type PaymentLookup interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
}

// Kicker requests a background full-window run.
type Kicker interface {
	Kick()
}

// Handler exposes on-demand runs, webhooks and gateway lookups.
type Handler struct {
	engine        *Engine
	gw            Gateway
	stored        PaymentLookup
	webhookSecret string
	kicker        Kicker
	logger        *zap.Logger
}

// NewHandler creates a reconciliation handler. webhookSecret may be empty, in
// which case webhooks are refused.
func NewHandler(engine *Engine, gw Gateway, stored PaymentLookup, webhookSecret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, gw: gw, stored: stored, webhookSecret: webhookSecret, logger: logger}
}

// SetKicker makes refund webhooks queue a full-window run after the single
// payment is applied.
func (h *Handler) SetKicker(k Kicker) {
	h.kicker = k
}

// Sync handles POST /payments/sync. The run is not cancelled if the client goes away.
func (h *Handler) Sync(c *gin.Context) {
	res, err := h.engine.Run(context.WithoutCancel(c.Request.Context()), TriggerManual)
	switch {
	case err == nil:
		response.OK(c, res)
	case errors.Is(err, ErrRunInProgress):
		response.Conflict(c, "a reconciliation run is already in progress")
	case errors.Is(err, ErrUpstreamFetch):
		h.logger.Warn("manual reconcile: gateway unavailable", zap.Error(err))
		response.ServiceUnavailable(c, "payment gateway unavailable")
	default:
		h.logger.Error("manual reconcile failed", zap.Error(err))
		response.Internal(c, "reconciliation failed")
	}
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity struct {
				PaymentID string `json:"payment_id"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// paymentID extracts the payment a webhook refers to.
func (w *webhookEnvelope) paymentID() string {
	if w.Payload.Payment != nil && w.Payload.Payment.Entity.ID != "" {
		return w.Payload.Payment.Entity.ID
	}
	if w.Payload.Refund != nil {
		return w.Payload.Refund.Entity.PaymentID
	}
	return ""
}

// Webhook handles POST /webhooks/razorpay. The entity in the body is only used
// for its id; the payment is re-fetched so a replayed body cannot roll state back.
func (h *Handler) Webhook(c *gin.Context) {
	if h.webhookSecret == "" {
		response.ServiceUnavailable(c, "webhooks not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	if !gateway.VerifyWebhook(body, c.GetHeader(SignatureHeader), h.webhookSecret) {
		response.Unauthorized(c, "invalid signature")
		return
	}
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		response.BadRequest(c, "invalid payload")
		return
	}
	if !strings.HasPrefix(env.Event, "payment.") && !strings.HasPrefix(env.Event, "refund.") {
		response.OK(c, gin.H{"ignored": env.Event})
		return
	}
	id := env.paymentID()
	if id == "" {
		response.BadRequest(c, "payload has no payment id")
		return
	}
	res, err := h.engine.ReconcileOne(context.WithoutCancel(c.Request.Context()), id)
	if err != nil {
		h.logger.Warn("webhook reconcile failed", zap.String("event", env.Event), zap.String("payment_id", id), zap.Error(err))
		response.ServiceUnavailable(c, "payment gateway unavailable")
		return
	}
	if h.kicker != nil && strings.HasPrefix(env.Event, "refund.") {
		h.kicker.Kick()
	}
	response.OK(c, res)
}

// GatewayStatusResponse pairs the gateway's view of a payment with ours.
type GatewayStatusResponse struct {
	Gateway      *gateway.Transaction `json:"gateway"`
	MappedStatus string               `json:"mapped_status"`
	Stored       *models.Payment      `json:"stored,omitempty"`
}

// GatewayStatus handles GET /payments/gateway-status?payment_id=.
func (h *Handler) GatewayStatus(c *gin.Context) {
	id := strings.TrimSpace(c.Query("payment_id"))
	if id == "" {
		response.BadRequest(c, "payment_id is required")
		return
	}
	tx, err := h.gw.Fetch(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("gateway status lookup failed", zap.String("payment_id", id), zap.Error(err))
		response.ServiceUnavailable(c, "payment gateway unavailable")
		return
	}
	out := GatewayStatusResponse{Gateway: tx, MappedStatus: MapStatus(tx.Status)}
	if h.stored != nil {
		stored, err := h.stored.GetByExternalID(c.Request.Context(), id)
		switch {
		case err == nil:
			out.Stored = stored
		case !errors.Is(err, models.ErrNotFound):
			h.logger.Warn("stored payment lookup failed", zap.String("payment_id", id), zap.Error(err))
		}
	}
	response.OK(c, out)
}
