package attendees_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Infix8/qrflow-backend/internal/attendees"
	"github.com/Infix8/qrflow-backend/internal/delivery"
	"github.com/Infix8/qrflow-backend/internal/events"
	"github.com/Infix8/qrflow-backend/internal/memstore"
	"github.com/Infix8/qrflow-backend/internal/middleware"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/internal/tokens"
)

type recordingDispatcher struct {
	ids  []int64
	fail map[int64]bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ *models.Event, a *models.Attendee) error {
	if d.fail[a.ID] {
		return errors.New("queue unavailable")
	}
	d.ids = append(d.ids, a.ID)
	return nil
}

type fixture struct {
	store      *memstore.Store
	dispatcher *recordingDispatcher
	router     *gin.Engine
	event      models.Event
}

func newFixture(t *testing.T, actor models.Actor) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memstore.New()
	ev := store.AddEvent(models.Event{ClubID: 1, Name: "Tech Fest", Date: time.Now().Add(72 * time.Hour)})
	sender := delivery.NewSender(delivery.SenderDeps{
		Attendees: store.Attendees(),
		Events:    store.Events(),
		Issuer:    tokens.NewCodec("attendee-key"),
	})
	d := &recordingDispatcher{fail: map[int64]bool{}}
	h := attendees.NewHandler(store.Attendees(), store.Events(), sender, d, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextActor, actor)
		c.Next()
	})
	scoped := r.Group("/events/:id", events.RequireEventAccess(store.Events()))
	scoped.GET("/attendees", h.ListByEvent)
	scoped.POST("/attendees", h.Create)
	scoped.POST("/tokens", h.IssueTokens)
	r.POST("/attendees/:id/resend", h.Resend)
	return &fixture{store: store, dispatcher: d, router: r, event: ev}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env.Data
}

func (f *fixture) eventPath(suffix string) string {
	return "/events/" + strconv.FormatInt(f.event.ID, 10) + suffix
}

var (
	clubOne  = int64(1)
	clubTwo  = int64(2)
	admin    = models.Actor{OperatorID: 1, Role: models.RoleAdmin}
	member   = models.Actor{OperatorID: 2, Role: models.RoleOrganizer, ClubID: &clubOne}
	stranger = models.Actor{OperatorID: 3, Role: models.RoleOrganizer, ClubID: &clubTwo}
)

func TestCreateNormalizesAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t, member)
	body := map[string]string{"name": "Ravi", "email": "ravi@example.com", "roll_number": "R7", "branch": "ece", "year": "II year", "section": "sec c"}

	code, data := f.do(t, http.MethodPost, f.eventPath("/attendees"), body)
	require.Equal(t, http.StatusCreated, code)
	var a models.Attendee
	require.NoError(t, json.Unmarshal(data, &a))
	assert.Equal(t, "ECE", a.Branch)
	assert.Equal(t, 2, a.Year)
	assert.Equal(t, "C", a.Section)
	assert.Equal(t, models.DefaultGender, a.Gender)

	code, _ = f.do(t, http.MethodPost, f.eventPath("/attendees"), body)
	assert.Equal(t, http.StatusConflict, code)
}

func TestIssueTokensQueuesPending(t *testing.T) {
	f := newFixture(t, admin)
	ctx := context.Background()
	a1, _ := f.store.AddAttendee(models.Attendee{EventID: f.event.ID, Name: "A", Email: "a@x.com", RollNumber: "R1", Year: 1, Section: "A"})
	a2, _ := f.store.AddAttendee(models.Attendee{EventID: f.event.ID, Name: "B", Email: "b@x.com", RollNumber: "R2", Year: 1, Section: "A"})
	a3, _ := f.store.AddAttendee(models.Attendee{EventID: f.event.ID, Name: "C", Email: "c@x.com", RollNumber: "R3", Year: 1, Section: "A"})
	require.NoError(t, f.store.Attendees().SaveToken(ctx, a3.ID, "already", time.Now()))
	require.NoError(t, f.store.Attendees().RecordDelivery(ctx, a3.ID, time.Now(), nil))
	f.dispatcher.fail[a2.ID] = true

	code, data := f.do(t, http.MethodPost, f.eventPath("/tokens"), nil)
	require.Equal(t, http.StatusOK, code)
	var report attendees.IssueReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, 2, report.Issued)
	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "R2")
	assert.Equal(t, []int64{a1.ID}, f.dispatcher.ids)

	got, _ := f.store.Attendees().GetByID(ctx, a2.ID)
	assert.True(t, got.TokenIssued, "token issued even when queueing failed")
}

func TestResend(t *testing.T) {
	f := newFixture(t, member)
	a, _ := f.store.AddAttendee(models.Attendee{EventID: f.event.ID, Name: "A", Email: "a@x.com", RollNumber: "R1", Year: 1, Section: "A"})

	code, _ := f.do(t, http.MethodPost, "/attendees/"+strconv.FormatInt(a.ID, 10)+"/resend", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []int64{a.ID}, f.dispatcher.ids)

	code, _ = f.do(t, http.MethodPost, "/attendees/9999/resend", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestResendOutsideClubIsForbidden(t *testing.T) {
	f := newFixture(t, stranger)
	a, _ := f.store.AddAttendee(models.Attendee{EventID: f.event.ID, Name: "A", Email: "a@x.com", RollNumber: "R1", Year: 1, Section: "A"})

	code, _ := f.do(t, http.MethodPost, "/attendees/"+strconv.FormatInt(a.ID, 10)+"/resend", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Empty(t, f.dispatcher.ids)

	code, _ = f.do(t, http.MethodGet, f.eventPath("/attendees"), nil)
	assert.Equal(t, http.StatusForbidden, code)
}
