package appointments

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentColumns = []string{
	"id", "clinic_id", "patient_id", "patient_name", "patient_email", "patient_phone",
	"doctor_name", "room", "starts_at", "status", "treatment_summary", "completed_at",
}

func TestSQLRepositoryGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db)
	starts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	mock.ExpectQuery("FROM appointments WHERE id").
		WithArgs("appt-1").
		WillReturnRows(sqlmock.NewRows(appointmentColumns).AddRow(
			"appt-1", "clinic-1", "patient-1", "Ana Lim", "ana@example.com", "+6591234567",
			"Dr. Tan", "2", starts, "BOOKED", nil, nil,
		))

	appt, err := repo.Get(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "clinic-1", appt.ClinicID)
	assert.Equal(t, StatusBooked, appt.Status)
	assert.Empty(t, appt.TreatmentSummary)
	assert.Nil(t, appt.CompletedAt)
	assert.True(t, appt.StartsAt.Equal(starts))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepositoryGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db)
	mock.ExpectQuery("FROM appointments WHERE id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepositorySave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db)
	mock.ExpectExec("INSERT INTO appointments").WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Save(context.Background(), &Appointment{ID: "appt-1", ClinicID: "clinic-1", PatientID: "p1", Status: StatusBooked})
	require.NoError(t, err)
	require.ErrorIs(t, repo.Save(context.Background(), &Appointment{}), ErrInvalidAppointment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepositoryCompletedWithSummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db)
	mock.ExpectQuery("WHERE id = ANY").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("appt-2"))

	done, err := repo.CompletedWithSummary(context.Background(), []string{"appt-1", "appt-2"})
	require.NoError(t, err)
	assert.False(t, done["appt-1"])
	assert.True(t, done["appt-2"])

	empty, err := repo.CompletedWithSummary(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInMemoryRepository(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "appt-1")
	require.ErrorIs(t, err, ErrAppointmentNotFound)

	require.NoError(t, repo.Save(ctx, &Appointment{ID: "appt-1", ClinicID: "c", Status: StatusCompleted, TreatmentSummary: "filling"}))
	require.NoError(t, repo.Save(ctx, &Appointment{ID: "appt-2", ClinicID: "c", Status: StatusCompleted}))

	done, err := repo.CompletedWithSummary(ctx, []string{"appt-1", "appt-2", "appt-3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"appt-1": true}, done)

	got, err := repo.Get(ctx, "appt-1")
	require.NoError(t, err)
	got.TreatmentSummary = "changed"
	again, _ := repo.Get(ctx, "appt-1")
	assert.Equal(t, "filling", again.TreatmentSummary, "Get returns a copy")
}
