package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Infix8/qrflow-backend/internal/gateway"
	"github.com/Infix8/qrflow-backend/internal/memstore"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/internal/tokens"
)

var (
	eventDate = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	runTime   = eventDate.Add(-72 * time.Hour)
)

type fakeGateway struct {
	mu      sync.Mutex
	txs     []gateway.Transaction
	bad     []gateway.DecodeFailure
	listErr error
	calls   int
	block   chan struct{} // when set, List waits on it
	entered chan struct{}
}

func (g *fakeGateway) List(ctx context.Context, _, _ time.Time) ([]gateway.Transaction, []gateway.DecodeFailure, error) {
	g.mu.Lock()
	g.calls++
	block, entered := g.block, g.entered
	g.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, nil, g.listErr
	}
	return append([]gateway.Transaction(nil), g.txs...), append([]gateway.DecodeFailure(nil), g.bad...), nil
}

func (g *fakeGateway) Fetch(_ context.Context, id string) (*gateway.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, tx := range g.txs {
		if tx.ID == id {
			tx := tx
			return &tx, nil
		}
	}
	return nil, errors.New("payment not found")
}

func (g *fakeGateway) set(txs ...gateway.Transaction) {
	g.mu.Lock()
	g.txs = txs
	g.mu.Unlock()
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []int64
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ *models.Event, a *models.Attendee) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, a.ID)
	return nil
}

type fixture struct {
	store      *memstore.Store
	gw         *fakeGateway
	codec      *tokens.Codec
	dispatcher *recordingDispatcher
	engine     *Engine
	event      models.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	event := store.AddEvent(models.Event{ClubID: 1, Name: "Tech Fest", Date: eventDate})
	gw := &fakeGateway{}
	codec := tokens.NewCodec("reconcile-key", tokens.WithClock(func() time.Time { return runTime }))
	d := &recordingDispatcher{}
	engine := NewEngine(Deps{
		Gateway:    gw,
		Payments:   store.Payments(),
		Attendees:  store.Attendees(),
		Events:     store.Events(),
		Issuer:     codec,
		Dispatcher: d,
		Now:        func() time.Time { return runTime },
	}, Config{
		DefaultEventID: event.ID,
		Marker:         "QRv2 Payment",
		MetadataKeys:   []string{"name", "phone", "roll_number", "department", "college_name"},
		Window:         24 * time.Hour,
	})
	return &fixture{store: store, gw: gw, codec: codec, dispatcher: d, engine: engine, event: event}
}

func registration(id, status string, notes map[string]string) gateway.Transaction {
	raw, _ := json.Marshal(notes)
	return gateway.Transaction{
		ID:       id,
		Amount:   50000,
		Currency: "INR",
		Status:   status,
		Email:    "a@example.com",
		Contact:  "+919800000000",
		Notes:    notes,
		RawNotes: raw,
	}
}

func TestRunProvisionsCapturedRegistration(t *testing.T) {
	f := newFixture(t)
	f.gw.set(registration("pay_1", "captured", map[string]string{
		"name": "A", "roll_number": "R1", "year_of_study": "3rd", "section": "b", "department": "cse",
	}))

	res, err := f.engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Relevant)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.AttendeesCreated)
	assert.Empty(t, res.Errors)

	pay, err := f.store.Payments().GetByExternalID(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCaptured, pay.Status)
	require.NotNil(t, pay.CapturedAt)
	require.NotNil(t, pay.AttendeeID)
	assert.JSONEq(t, `{"name":"A","roll_number":"R1","year_of_study":"3rd","section":"b","department":"cse"}`, string(pay.Metadata))

	att, err := f.store.Attendees().GetByID(context.Background(), *pay.AttendeeID)
	require.NoError(t, err)
	assert.Equal(t, "A", att.Name)
	assert.Equal(t, "R1", att.RollNumber)
	assert.Equal(t, 3, att.Year)
	assert.Equal(t, "B", att.Section)
	assert.Equal(t, "CSE", att.Branch)
	assert.Equal(t, models.DefaultGender, att.Gender)
	assert.True(t, att.TokenIssued)

	claims, err := f.codec.Verify(att.Token)
	require.NoError(t, err)
	assert.Equal(t, f.event.ID, claims.EventID)
	assert.Equal(t, att.ID, claims.AttendeeID)
	assert.Equal(t, []int64{att.ID}, f.dispatcher.sent)
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.gw.set(
		registration("pay_1", "captured", map[string]string{"name": "A", "roll_number": "R1"}),
		registration("pay_2", "failed", map[string]string{"name": "B", "roll_number": "R2"}),
	)
	ctx := context.Background()

	_, err := f.engine.Run(ctx, TriggerManual)
	require.NoError(t, err)
	before1, _ := f.store.Payments().GetByExternalID(ctx, "pay_1")
	before2, _ := f.store.Payments().GetByExternalID(ctx, "pay_2")

	res, err := f.engine.Run(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Unchanged)
	assert.Equal(t, 0, res.AttendeesCreated)

	after1, _ := f.store.Payments().GetByExternalID(ctx, "pay_1")
	after2, _ := f.store.Payments().GetByExternalID(ctx, "pay_2")
	assert.Equal(t, before1, after1)
	assert.Equal(t, before2, after2)
	assert.Equal(t, 2, f.store.Payments().Count())

	list, err := f.store.Attendees().ListByEvent(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Len(t, f.dispatcher.sent, 1)
}

func TestRunSkipsIrrelevantTransactions(t *testing.T) {
	f := newFixture(t)
	other := registration("pay_x", "captured", map[string]string{"invoice": "42"})
	marked := registration("pay_m", "created", nil)
	marked.Description = "QRv2 Payment"
	f.gw.set(other, marked)

	res, err := f.engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Relevant)
	assert.Equal(t, 1, res.Created)

	_, err = f.store.Payments().GetByExternalID(context.Background(), "pay_x")
	assert.ErrorIs(t, err, models.ErrNotFound)
	pay, err := f.store.Payments().GetByExternalID(context.Background(), "pay_m")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, pay.Status)
}

func TestRunLinksExistingAttendee(t *testing.T) {
	tests := []struct {
		name  string
		email string
		roll  string
	}{
		{"by email", "a@example.com", "OTHER"},
		{"by roll", "someone@else.com", "R1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			existing, err := f.store.AddAttendee(models.Attendee{
				EventID: f.event.ID, Name: "A", Email: tt.email, RollNumber: tt.roll, Year: 1, Section: "A",
			})
			require.NoError(t, err)
			f.gw.set(registration("pay_1", "captured", map[string]string{"name": "A", "roll_number": "R1"}))

			res, err := f.engine.Run(context.Background(), TriggerManual)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Created)
			assert.Equal(t, 0, res.AttendeesCreated)
			assert.Empty(t, f.dispatcher.sent)

			pay, err := f.store.Payments().GetByExternalID(context.Background(), "pay_1")
			require.NoError(t, err)
			require.NotNil(t, pay.AttendeeID)
			assert.Equal(t, existing.ID, *pay.AttendeeID)
		})
	}
}

func TestRunDoesNotProvisionWithoutIdentity(t *testing.T) {
	tests := []struct {
		name   string
		status string
		notes  map[string]string
	}{
		{"pending", "authorized", map[string]string{"name": "A", "roll_number": "R1"}},
		{"no roll", "captured", map[string]string{"name": "A"}},
		{"unknown name", "captured", map[string]string{"name": "Unknown", "roll_number": "R1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gw.set(registration("pay_1", tt.status, tt.notes))

			res, err := f.engine.Run(context.Background(), TriggerManual)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Created)
			assert.Equal(t, 0, res.AttendeesCreated)

			pay, err := f.store.Payments().GetByExternalID(context.Background(), "pay_1")
			require.NoError(t, err)
			assert.Nil(t, pay.AttendeeID)
		})
	}
}

func TestCapturedAtSetOnceAndPreserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notes := map[string]string{"name": "A"}

	f.gw.set(registration("pay_1", "authorized", notes))
	_, err := f.engine.Run(ctx, TriggerManual)
	require.NoError(t, err)
	pay, _ := f.store.Payments().GetByExternalID(ctx, "pay_1")
	assert.Nil(t, pay.CapturedAt)

	f.gw.set(registration("pay_1", "captured", notes))
	res, err := f.engine.Run(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	pay, _ = f.store.Payments().GetByExternalID(ctx, "pay_1")
	require.NotNil(t, pay.CapturedAt)
	captured := *pay.CapturedAt

	f.gw.set(registration("pay_1", "refunded", notes))
	res, err = f.engine.Run(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	pay, _ = f.store.Payments().GetByExternalID(ctx, "pay_1")
	assert.Equal(t, models.PaymentStatusRefunded, pay.Status)
	require.NotNil(t, pay.CapturedAt)
	assert.True(t, captured.Equal(*pay.CapturedAt))
}

func TestRunIsolatesPerTransactionFailures(t *testing.T) {
	f := newFixture(t)
	f.gw.set(
		registration("pay_bad", "captured", map[string]string{"name": "A", "roll_number": "R1", "event_id": "abc"}),
		registration("pay_missing", "captured", map[string]string{"name": "B", "roll_number": "R2", "event_id": "999"}),
		registration("pay_ok", "captured", map[string]string{"name": "C", "roll_number": "R3"}),
	)

	res, err := f.engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "pay_bad", res.Errors[0].PaymentID)
	assert.Equal(t, KindMalformed, res.Errors[0].Kind)
	assert.Equal(t, "pay_missing", res.Errors[1].PaymentID)
	assert.Equal(t, KindMalformed, res.Errors[1].Kind)
	assert.Equal(t, 1, f.store.Payments().Count())
}

func TestRunReportsUndecodablePayments(t *testing.T) {
	f := newFixture(t)
	f.gw.set(registration("pay_ok", "captured", map[string]string{"name": "A", "roll_number": "R1"}))
	f.gw.bad = []gateway.DecodeFailure{
		{ID: "pay_bad", Err: errors.New(`decode payment pay_bad: amount "abc": invalid syntax`)},
		{Err: errors.New("decode payment: missing id")},
	}

	res, err := f.engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Relevant)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "pay_bad", res.Errors[0].PaymentID)
	assert.Equal(t, KindMalformed, res.Errors[0].Kind)
	assert.Contains(t, res.Errors[0].Message, "malformed transaction")
	assert.Equal(t, "unknown", res.Errors[1].PaymentID)
	assert.Equal(t, KindMalformed, res.Errors[1].Kind)

	_, err = f.store.Payments().GetByExternalID(context.Background(), "pay_bad")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProvisionFailureWritesNothingAndRecovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.set(registration("pay_1", "captured", map[string]string{"name": "A", "roll_number": "R1"}))

	f.store.FailProvision(errors.New("db down"))
	res, err := f.engine.Run(ctx, TriggerManual)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindStorage, res.Errors[0].Kind)
	assert.Equal(t, 0, f.store.Payments().Count())
	list, _ := f.store.Attendees().ListByEvent(ctx, f.event.ID)
	assert.Empty(t, list)

	f.store.FailProvision(nil)
	res, err = f.engine.Run(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.AttendeesCreated)
}

func TestDispatchFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = errors.New("queue unavailable")
	f.gw.set(registration("pay_1", "captured", map[string]string{"name": "A", "roll_number": "R1"}))

	res, err := f.engine.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AttendeesCreated)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindDelivery, res.Errors[0].Kind)

	list, err := f.store.Attendees().ListByEvent(context.Background(), f.event.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].TokenIssued)
	require.NotNil(t, list[0].DeliveryError)
	assert.Equal(t, "queue unavailable", *list[0].DeliveryError)
}

func TestRunReportsUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.listErr = errors.New("503 from gateway")

	_, err := f.engine.Run(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrUpstreamFetch)
	assert.Equal(t, 0, f.store.Payments().Count())
}

func TestConcurrentRunIsRejected(t *testing.T) {
	f := newFixture(t)
	f.gw.block = make(chan struct{})
	f.gw.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Run(context.Background(), TriggerScheduled)
		done <- err
	}()
	<-f.gw.entered

	_, err := f.engine.Run(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(f.gw.block)
	require.NoError(t, <-done)

	f.gw.mu.Lock()
	f.gw.block, f.gw.entered = nil, nil
	f.gw.mu.Unlock()
	_, err = f.engine.Run(context.Background(), TriggerManual)
	assert.NoError(t, err)
}

func TestReconcileOne(t *testing.T) {
	f := newFixture(t)
	f.gw.set(registration("pay_1", "captured", map[string]string{"name": "A", "roll_number": "R1"}))

	res, err := f.engine.ReconcileOne(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, TriggerWebhook, res.Trigger)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.AttendeesCreated)

	_, err = f.engine.ReconcileOne(context.Background(), "pay_unknown")
	assert.ErrorIs(t, err, ErrUpstreamFetch)
}

func TestMapStatus(t *testing.T) {
	tests := map[string]string{
		"created":    models.PaymentStatusPending,
		"authorized": models.PaymentStatusPending,
		"captured":   models.PaymentStatusCaptured,
		"Failed":     models.PaymentStatusFailed,
		"refunded":   models.PaymentStatusRefunded,
		"":           models.PaymentStatusPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, MapStatus(in), in)
	}
}
