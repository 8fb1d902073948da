package deliverylogs

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Infix8/qrflow-backend/internal/models"
)

func TestCreateAndList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewRepository(mock)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO delivery_logs`).
		WithArgs(int64(1), int64(7), "a@example.com", models.DeliveryLogStatusSent, 1, "codes/1/7.png", "").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), now))

	l := &models.DeliveryLog{EventID: 1, AttendeeID: 7, RecipientEmail: "a@example.com", Status: models.DeliveryLogStatusSent, Attempt: 1, ObjectKey: "codes/1/7.png"}
	require.NoError(t, repo.Create(ctx, l))
	assert.Equal(t, int64(11), l.ID)
	assert.Equal(t, now, l.CreatedAt)

	mock.ExpectQuery(`FROM delivery_logs`).
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "attendee_id", "recipient_email", "status", "attempt", "object_key", "error_message", "created_at"}).
			AddRow(int64(11), int64(1), int64(7), "a@example.com", "sent", 1, "codes/1/7.png", "", now).
			AddRow(int64(10), int64(1), int64(7), "a@example.com", "failed", 1, "", "smtp timeout", now.Add(-time.Minute)))

	list, err := repo.ListByEvent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "smtp timeout", list[1].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}
