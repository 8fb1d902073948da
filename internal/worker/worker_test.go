package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/pkg/queue"
)

type stubSender struct {
	mu       sync.Mutex
	attempts []int
	err      error
}

func (s *stubSender) Deliver(_ context.Context, _ int64, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return s.err
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewQueue(client, nil)
}

func TestRunRetriesThenDeadLetters(t *testing.T) {
	q := newQueue(t)
	sender := &stubSender{err: errors.New("smtp down")}
	p := NewDeliveryProcessor(sender, q, nil)
	p.wait = 50 * time.Millisecond
	p.backoff = time.Millisecond

	require.NoError(t, q.EnqueueDelivery(context.Background(), queue.DeliveryPayload{EventID: 1, AttendeeID: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		n, err := q.DeadLetters(context.Background())
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int{1, 2, 3}, sender.attempts)
}

func TestProcessDropsPermanentFailures(t *testing.T) {
	sender := &stubSender{err: fmt.Errorf("load attendee 2: %w", models.ErrNotFound)}
	p := NewDeliveryProcessor(sender, nil, nil)
	job := &queue.Job{ID: "j", Type: queue.JobTypeDelivery, Payload: []byte(`{"event_id":1,"attendee_id":2}`)}

	assert.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, 1, sender.count())
}

func TestProcessDropsMalformedJobs(t *testing.T) {
	sender := &stubSender{}
	p := NewDeliveryProcessor(sender, nil, nil)
	job := &queue.Job{ID: "j", Type: "other", Payload: []byte(`{}`)}

	assert.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, 0, sender.count())
}
