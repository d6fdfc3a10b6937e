package queue

import (
	"context"
	"time"
)

// Store persists queue entries and per-clinic run state.
type Store interface {
	// WithClinic runs fn as one exclusive unit of work for clinicID. The clinic
	// state is created on first use. Waiting for the clinic lock is bounded and
	// a timeout yields ErrQueueBusy. Writes made through tx are discarded when
	// fn returns an error.
	WithClinic(ctx context.Context, clinicID string, fn func(tx Tx) error) error

	EntryByAppointment(ctx context.Context, appointmentID string) (Entry, error)
	EntryByID(ctx context.Context, id string) (Entry, error)
	// Entries lists a clinic's entries created within r, ordered by queue number.
	Entries(ctx context.Context, clinicID string, r Range) ([]Entry, error)
	// State returns the clinic's run state, or a zero state when none exists yet.
	State(ctx context.Context, clinicID string) (ClinicState, error)
	// ResetAll stops and unpauses every known clinic and moves its reset
	// boundary to boundary. It returns the IDs of the clinics touched.
	ResetAll(ctx context.Context, boundary, now time.Time) ([]string, error)
}

// Tx is the clinic-scoped view handed to WithClinic callbacks.
type Tx interface {
	State() ClinicState
	SaveState(ctx context.Context, state ClinicState) error

	EntryByAppointment(ctx context.Context, appointmentID string) (Entry, error)
	EntryByID(ctx context.Context, id string) (Entry, error)
	Entries(ctx context.Context, r Range) ([]Entry, error)
	// ActiveEntries returns every CALLED or SERVING entry of the clinic,
	// regardless of window.
	ActiveEntries(ctx context.Context) ([]Entry, error)
	MaxQueueNumber(ctx context.Context, r Range) (int, error)

	Insert(ctx context.Context, e Entry) error
	Update(ctx context.Context, e Entry) error
}
