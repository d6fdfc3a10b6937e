package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryColumnNames = []string{
	"id", "clinic_id", "appointment_id", "patient_id", "queue_number", "status", "created_at",
	"called_at", "serving_at", "completed_at", "fast_tracked", "fast_tracked_at", "fast_track_reason",
	"fast_track_count", "doctor_name", "room",
}

var stateColumnNames = []string{"clinic_id", "running", "paused", "last_reset_at", "updated_at"}

func TestPostgresStoreWithClinicInsertsUnderLock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock, 2*time.Second)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout = 2000").WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec("INSERT INTO clinic_queue_state").WithArgs("clinic-1").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FOR UPDATE").WithArgs("clinic-1").WillReturnRows(
		pgxmock.NewRows(stateColumnNames).AddRow("clinic-1", true, false, (*time.Time)(nil), now),
	)
	mock.ExpectQuery("SELECT COALESCE").WithArgs("clinic-1", pgxmock.AnyArg(), pgxmock.AnyArg()).WillReturnRows(
		pgxmock.NewRows([]string{"coalesce"}).AddRow(4),
	)
	mock.ExpectExec("INSERT INTO queue_entries").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	var number int
	err = store.WithClinic(context.Background(), "clinic-1", func(tx Tx) error {
		assert.True(t, tx.State().Running)
		highest, err := tx.MaxQueueNumber(context.Background(), Range{From: now.Truncate(24 * time.Hour)})
		if err != nil {
			return err
		}
		number = highest + 1
		return tx.Insert(context.Background(), Entry{
			ID:            "0b4c8f4e-52f7-4a3b-9d6a-1f0c2b3d4e5f",
			ClinicID:      "clinic-1",
			AppointmentID: "appt-9",
			PatientID:     "patient-9",
			QueueNumber:   number,
			Status:        StatusQueued,
			CreatedAt:     now,
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 5, number)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWithClinicLockTimeout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock, 0)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO clinic_queue_state").WithArgs("clinic-1").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FOR UPDATE").WithArgs("clinic-1").WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	called := false
	err = store.WithClinic(context.Background(), "clinic-1", func(Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrQueueBusy)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWithClinicRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock, 0)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO clinic_queue_state").WithArgs("clinic-1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FOR UPDATE").WithArgs("clinic-1").WillReturnRows(
		pgxmock.NewRows(stateColumnNames).AddRow("clinic-1", false, false, (*time.Time)(nil), now),
	)
	mock.ExpectRollback()

	err = store.WithClinic(context.Background(), "clinic-1", func(Tx) error {
		return ErrEmptyQueue
	})
	require.ErrorIs(t, err, ErrEmptyQueue)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreEntryByAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock, 0)
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ftAt := created.Add(time.Minute)
	appt := "appt-1"
	reason := "pregnant"

	mock.ExpectQuery("FROM queue_entries WHERE appointment_id").WithArgs("appt-1").WillReturnRows(
		pgxmock.NewRows(entryColumnNames).AddRow(
			"0b4c8f4e-52f7-4a3b-9d6a-1f0c2b3d4e5f", "clinic-1", &appt, "patient-1", 3, "QUEUED", created,
			(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), true, &ftAt, &reason,
			1, "Dr. Tan", "2",
		),
	)

	entry, err := store.EntryByAppointment(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "appt-1", entry.AppointmentID)
	assert.Equal(t, 3, entry.QueueNumber)
	assert.Equal(t, StatusQueued, entry.Status)
	assert.True(t, entry.FastTracked)
	require.NotNil(t, entry.FastTrackedAt)
	assert.True(t, entry.FastTrackedAt.Equal(ftAt))
	assert.Equal(t, "pregnant", entry.FastTrackReason)
	assert.Nil(t, entry.CalledAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreEntryNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock, 0)

	mock.ExpectQuery("FROM queue_entries WHERE appointment_id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = store.EntryByAppointment(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.EntryByID(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreStateDefaultsWhenMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock, 0)
	mock.ExpectQuery("FROM clinic_queue_state").WithArgs("new-clinic").WillReturnError(pgx.ErrNoRows)

	state, err := store.State(context.Background(), "new-clinic")
	require.NoError(t, err)
	assert.Equal(t, "new-clinic", state.ClinicID)
	assert.False(t, state.Running)
	assert.Nil(t, state.LastResetAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreResetAll(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStore(mock, 0)
	boundary := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	now := boundary.Add(time.Second)

	mock.ExpectQuery("UPDATE clinic_queue_state").WithArgs(boundary, now).WillReturnRows(
		pgxmock.NewRows([]string{"clinic_id"}).AddRow("clinic-a").AddRow("clinic-b"),
	)

	ids, err := store.ResetAll(context.Background(), boundary, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"clinic-a", "clinic-b"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpdateMissingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tx := &pgTx{q: mock, clinicID: "clinic-1"}
	mock.ExpectExec("UPDATE queue_entries").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = tx.Update(context.Background(), Entry{ID: "0b4c8f4e-52f7-4a3b-9d6a-1f0c2b3d4e5f", Status: StatusCalled})
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockErrorClassification(t *testing.T) {
	assert.ErrorIs(t, lockError(&pgconn.PgError{Code: pgLockNotAvailable}), ErrQueueBusy)
	assert.ErrorIs(t, lockError(context.DeadlineExceeded), ErrQueueBusy)
	other := lockError(errors.New("connection reset"))
	assert.NotErrorIs(t, other, ErrQueueBusy)
	assert.Equal(t, KindInternal, KindOf(other))
}
