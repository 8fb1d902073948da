package checkin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/middleware"
	"github.com/Infix8/qrflow-backend/pkg/response"
)

// ScanRequest is the body for the token-based check-in endpoints.
type ScanRequest struct {
	Token string `json:"token" binding:"required"`
}

// Handler maps admission outcomes onto HTTP.
type Handler struct {
	machine *Machine
	logger  *zap.Logger
}

// NewHandler creates a check-in handler.
func NewHandler(machine *Machine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{machine: machine, logger: logger}
}

// HTTPStatus maps an outcome to a response code.
func HTTPStatus(s Status) int {
	switch s {
	case StatusSuccess:
		return http.StatusOK
	case StatusAlreadyAdmitted:
		return http.StatusConflict
	case StatusInvalidToken, StatusExpiredToken:
		return http.StatusBadRequest
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

// Status handles POST /checkin/status: current state of the attendee behind a token.
func (h *Handler) Status(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "token is required")
		return
	}
	actor, _ := middleware.ActorFrom(c)
	in := h.machine.Inspect(c.Request.Context(), req.Token, actor)
	code := http.StatusOK
	if in.Status != StatusSuccess {
		code = HTTPStatus(in.Status)
	}
	response.Outcome(c, code, in.Status == StatusSuccess, in, in.Message)
}

// Validate handles POST /checkin/validate: like Status, but an attendee who is
// already inside is reported as not admissible.
func (h *Handler) Validate(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "token is required")
		return
	}
	actor, _ := middleware.ActorFrom(c)
	in := h.machine.Inspect(c.Request.Context(), req.Token, actor)
	code := http.StatusOK
	switch {
	case in.AlreadyAdmitted:
		code = http.StatusConflict
	case in.Status != StatusSuccess:
		code = HTTPStatus(in.Status)
	}
	response.Outcome(c, code, in.Admissible(), in, in.Message)
}

// Scan handles POST /checkin/scan.
func (h *Handler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "token is required")
		return
	}
	actor, _ := middleware.ActorFrom(c)
	res := h.machine.Admit(c.Request.Context(), req.Token, actor)
	h.write(c, res)
}

// Manual handles POST /attendees/:id/checkin.
func (h *Handler) Manual(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid attendee id")
		return
	}
	actor, _ := middleware.ActorFrom(c)
	res := h.machine.AdmitManual(c.Request.Context(), id, actor)
	h.write(c, res)
}

func (h *Handler) write(c *gin.Context, res Result) {
	if res.Retryable() {
		c.Header("Retry-After", "1")
	}
	response.Outcome(c, HTTPStatus(res.Status), res.OK(), res, res.Message)
}
