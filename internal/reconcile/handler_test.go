package reconcile

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.engine, f.gw, f.store.Payments(), testWebhookSecret, nil)
	r := gin.New()
	r.POST("/payments/sync", h.Sync)
	r.POST("/webhooks/razorpay", h.Webhook)
	r.GET("/payments/gateway-status", h.GatewayStatus)
	return r
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSyncEndpoint(t *testing.T) {
	f := newFixture(t)
	f.gw.set(registration("pay_1", "captured", map[string]string{"name": "A", "roll_number": "R1"}))
	r := newRouter(f)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/payments/sync", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool   `json:"success"`
		Data    Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, TriggerManual, body.Data.Trigger)
	assert.Equal(t, 1, body.Data.Created)
}

func TestSyncEndpointConflictWhileRunning(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	release, ok, err := f.engine.lock.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	w := serve(r, httptest.NewRequest(http.MethodPost, "/payments/sync", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWebhook(t *testing.T) {
	f := newFixture(t)
	f.gw.set(registration("pay_1", "captured", map[string]string{"name": "A", "roll_number": "R1"}))
	r := newRouter(f)
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","status":"authorized"}}}}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
	assert.Equal(t, 0, f.store.Payments().Count())

	req = httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(body))
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	pay, err := f.store.Payments().GetByExternalID(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "captured", pay.Status, "state comes from the gateway, not the webhook body")
}

type countingKicker struct{ n int }

func (k *countingKicker) Kick() { k.n++ }

func TestWebhookRefundQueuesFullRun(t *testing.T) {
	f := newFixture(t)
	f.gw.set(registration("pay_1", "refunded", map[string]string{"name": "A", "roll_number": "R1"}))
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.engine, f.gw, f.store.Payments(), testWebhookSecret, nil)
	k := &countingKicker{}
	h.SetKicker(k)
	r := gin.New()
	r.POST("/webhooks/razorpay", h.Webhook)

	post := func(body []byte) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, sign(body))
		return serve(r, req).Code
	}

	require.Equal(t, http.StatusOK, post([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`)))
	assert.Equal(t, 0, k.n)

	require.Equal(t, http.StatusOK, post([]byte(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1"}}}}`)))
	assert.Equal(t, 1, k.n)

	pay, err := f.store.Payments().GetByExternalID(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "refunded", pay.Status)
}

func TestWebhookRefundKicksScheduler(t *testing.T) {
	f := newFixture(t)
	f.gw.set(registration("pay_1", "refunded", map[string]string{"name": "A", "roll_number": "R1"}))
	s := NewScheduler(f.engine, time.Hour, nil)
	s.Start()
	defer s.Stop()

	gin.SetMode(gin.TestMode)
	h := NewHandler(f.engine, f.gw, f.store.Payments(), testWebhookSecret, nil)
	h.SetKicker(s)
	r := gin.New()
	r.POST("/webhooks/razorpay", h.Webhook)

	body := []byte(`{"event":"refund.created","payload":{"refund":{"entity":{"payment_id":"pay_1"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(body))
	require.Equal(t, http.StatusOK, serve(r, req).Code)

	assert.Eventually(t, func() bool { return f.gw.Calls() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	body := []byte(`{"event":"order.paid","payload":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(body))
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
	assert.Equal(t, 0, f.store.Payments().Count())
}

func TestGatewayStatus(t *testing.T) {
	f := newFixture(t)
	f.gw.set(registration("pay_1", "authorized", map[string]string{"name": "A"}))
	r := newRouter(f)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/payments/gateway-status", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/payments/gateway-status?payment_id=pay_1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data GatewayStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pending", body.Data.MappedStatus)
	assert.Nil(t, body.Data.Stored)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/payments/gateway-status?payment_id=nope", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
