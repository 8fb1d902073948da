package attendees

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Infix8/qrflow-backend/internal/models"
)

var attendeeCols = []string{
	"id", "event_id", "name", "email", "roll_number", "branch", "year", "section", "phone", "gender",
	"token", "token_issued", "token_issued_at", "delivered", "delivered_at", "delivery_error",
	"admitted", "admitted_at", "admitted_by", "created_at", "updated_at",
}

func attendeeRow(id int64, admitted bool, admittedAt *time.Time) *pgxmock.Rows {
	created := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	tok := "signed.token.value"
	issued := created.Add(time.Hour)
	var by *int64
	if admitted {
		op := int64(9)
		by = &op
	}
	return pgxmock.NewRows(attendeeCols).AddRow(
		id, int64(1), "Asha", "asha@example.com", "R1", "CSE", 3, "B", "", models.DefaultGender,
		&tok, true, &issued, false, nil, nil,
		admitted, admittedAt, by, created, created,
	)
}

func TestWithAdmissionLockCommitsAdmission(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 2, 20, 11, 30, 0, 123456789, time.UTC)
	stored := at.Truncate(time.Microsecond)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM attendees WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(attendeeRow(42, false, nil))
	mock.ExpectQuery(`UPDATE attendees SET admitted = TRUE .+ RETURNING admitted_at`).
		WithArgs(int64(42), at, int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"admitted_at"}).AddRow(stored))
	mock.ExpectCommit()

	repo := NewRepository(mock)
	var snap models.Attendee
	err = repo.WithAdmissionLock(context.Background(), 42, func(row Locked) error {
		require.False(t, row.Snapshot().Admitted)
		require.Equal(t, "signed.token.value", row.Snapshot().Token)
		if err := row.MarkAdmitted(context.Background(), at, 7); err != nil {
			return err
		}
		snap = row.Snapshot()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, snap.Admitted)
	assert.Equal(t, stored, *snap.AdmittedAt, "snapshot carries the stored timestamp, not the requested one")
	assert.Equal(t, int64(7), *snap.AdmittedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithAdmissionLockRollsBackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM attendees WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(attendeeRow(42, false, nil))
	mock.ExpectQuery(`UPDATE attendees SET admitted = TRUE`).
		WithArgs(int64(42), pgxmock.AnyArg(), int64(7)).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	repo := NewRepository(mock)
	err = repo.WithAdmissionLock(context.Background(), 42, func(row Locked) error {
		return row.MarkAdmitted(context.Background(), time.Now(), 7)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithAdmissionLockLostRaceFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM attendees WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(42)).
		WillReturnRows(attendeeRow(42, false, nil))
	mock.ExpectQuery(`UPDATE attendees SET admitted = TRUE`).
		WithArgs(int64(42), pgxmock.AnyArg(), int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"admitted_at"}))
	mock.ExpectRollback()

	repo := NewRepository(mock)
	err = repo.WithAdmissionLock(context.Background(), 42, func(row Locked) error {
		return row.MarkAdmitted(context.Background(), time.Now(), 7)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matched no row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithAdmissionLockAlreadyAdmittedWritesNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	when := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM attendees WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(5)).
		WillReturnRows(attendeeRow(5, true, &when))
	mock.ExpectCommit()

	repo := NewRepository(mock)
	err = repo.WithAdmissionLock(context.Background(), 5, func(row Locked) error {
		a := row.Snapshot()
		assert.True(t, a.Admitted)
		assert.Equal(t, when, *a.AdmittedAt)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithAdmissionLockUnknownAttendee(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM attendees WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows(attendeeCols))
	mock.ExpectRollback()

	repo := NewRepository(mock)
	called := false
	err = repo.WithAdmissionLock(context.Background(), 404, func(Locked) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDelivery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Now()
	mock.ExpectExec(`UPDATE attendees SET delivered = TRUE`).
		WithArgs(int64(3), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE attendees SET delivery_error = \$2`).
		WithArgs(int64(3), "smtp: 550 mailbox unavailable").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE attendees SET delivered = TRUE`).
		WithArgs(int64(99), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewRepository(mock)
	require.NoError(t, repo.RecordDelivery(context.Background(), 3, at, nil))
	require.NoError(t, repo.RecordDelivery(context.Background(), 3, at, errors.New("smtp: 550 mailbox unavailable")))
	assert.ErrorIs(t, repo.RecordDelivery(context.Background(), 99, at, nil), models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
