package appointments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"
)

// Repository persists appointments.
type Repository interface {
	Get(ctx context.Context, id string) (*Appointment, error)
	Save(ctx context.Context, appt *Appointment) error
	// CompletedWithSummary returns the subset of ids that are completed with a summary.
	CompletedWithSummary(ctx context.Context, ids []string) (map[string]bool, error)
}

// InMemoryRepository is used for local development and tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	appts map[string]Appointment
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{appts: make(map[string]Appointment)}
}

func (r *InMemoryRepository) Get(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	appt, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &appt, nil
}

func (r *InMemoryRepository) Save(_ context.Context, appt *Appointment) error {
	if appt == nil || appt.ID == "" {
		return ErrInvalidAppointment
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[appt.ID] = *appt
	return nil
}

func (r *InMemoryRepository) CompletedWithSummary(_ context.Context, ids []string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if appt, ok := r.appts[id]; ok && appt.CompletedWithSummary() {
			out[id] = true
		}
	}
	return out, nil
}

// SQLRepository reads and writes the appointments table through database/sql.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	if db == nil {
		panic("appointments: sql db cannot be nil")
	}
	return &SQLRepository{db: db}
}

const (
	selectAppointmentSQL = `
		SELECT id, clinic_id, patient_id, patient_name, patient_email, patient_phone,
		       doctor_name, room, starts_at, status, treatment_summary, completed_at
		FROM appointments WHERE id = $1`
	upsertAppointmentSQL = `
		INSERT INTO appointments (id, clinic_id, patient_id, patient_name, patient_email, patient_phone,
		    doctor_name, room, starts_at, status, treatment_summary, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
		    clinic_id = EXCLUDED.clinic_id, patient_id = EXCLUDED.patient_id,
		    patient_name = EXCLUDED.patient_name, patient_email = EXCLUDED.patient_email,
		    patient_phone = EXCLUDED.patient_phone, doctor_name = EXCLUDED.doctor_name,
		    room = EXCLUDED.room, starts_at = EXCLUDED.starts_at, status = EXCLUDED.status,
		    treatment_summary = EXCLUDED.treatment_summary, completed_at = EXCLUDED.completed_at`
	completedWithSummarySQL = `
		SELECT id FROM appointments
		WHERE id = ANY($1) AND status = 'COMPLETED' AND COALESCE(treatment_summary, '') <> ''`
)

func (r *SQLRepository) Get(ctx context.Context, id string) (*Appointment, error) {
	var (
		appt        Appointment
		status      string
		summary     sql.NullString
		completedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectAppointmentSQL, id).Scan(
		&appt.ID, &appt.ClinicID, &appt.PatientID, &appt.PatientName, &appt.PatientEmail, &appt.PatientPhone,
		&appt.DoctorName, &appt.Room, &appt.StartsAt, &status, &summary, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get %s: %w", id, err)
	}
	appt.Status = Status(status)
	appt.TreatmentSummary = summary.String
	if completedAt.Valid {
		t := completedAt.Time
		appt.CompletedAt = &t
	}
	return &appt, nil
}

func (r *SQLRepository) Save(ctx context.Context, appt *Appointment) error {
	if appt == nil || appt.ID == "" {
		return ErrInvalidAppointment
	}
	summary := sql.NullString{String: appt.TreatmentSummary, Valid: appt.TreatmentSummary != ""}
	var completedAt sql.NullTime
	if appt.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *appt.CompletedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, upsertAppointmentSQL,
		appt.ID, appt.ClinicID, appt.PatientID, appt.PatientName, appt.PatientEmail, appt.PatientPhone,
		appt.DoctorName, appt.Room, appt.StartsAt, string(appt.Status), summary, completedAt,
	)
	if err != nil {
		return fmt.Errorf("appointments: save %s: %w", appt.ID, err)
	}
	return nil
}

func (r *SQLRepository) CompletedWithSummary(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, completedWithSummarySQL, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("appointments: completed lookup: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("appointments: completed lookup: scan: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

var (
	_ Repository = (*InMemoryRepository)(nil)
	_ Repository = (*SQLRepository)(nil)
)
