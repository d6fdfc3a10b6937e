package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgDB is the subset of pgxpool.Pool used by PostgresStore.
type pgDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

const entryColumns = `id::text, clinic_id, appointment_id, patient_id, queue_number, status, created_at,
	called_at, serving_at, completed_at, fast_tracked, fast_tracked_at, fast_track_reason,
	fast_track_count, doctor_name, room`

const (
	ensureStateSQL = `INSERT INTO clinic_queue_state (clinic_id, running, paused, updated_at)
		VALUES ($1, false, false, now())
		ON CONFLICT (clinic_id) DO NOTHING`
	lockStateSQL = `SELECT clinic_id, running, paused, last_reset_at, updated_at
		FROM clinic_queue_state WHERE clinic_id = $1 FOR UPDATE`
	selectStateSQL = `SELECT clinic_id, running, paused, last_reset_at, updated_at
		FROM clinic_queue_state WHERE clinic_id = $1`
	saveStateSQL = `UPDATE clinic_queue_state
		SET running = $2, paused = $3, last_reset_at = $4, updated_at = $5
		WHERE clinic_id = $1`
	resetAllSQL = `UPDATE clinic_queue_state
		SET running = false, paused = false, last_reset_at = $1, updated_at = $2
		RETURNING clinic_id`

	selectByAppointmentSQL = `SELECT ` + entryColumns + ` FROM queue_entries WHERE appointment_id = $1`
	selectByIDSQL          = `SELECT ` + entryColumns + ` FROM queue_entries WHERE id = $1`
	selectByIDInClinicSQL  = `SELECT ` + entryColumns + ` FROM queue_entries WHERE id = $1 AND clinic_id = $2`
	selectRangeSQL         = `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE clinic_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY queue_number, created_at`
	selectActiveSQL = `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE clinic_id = $1 AND status IN ('CALLED', 'SERVING')
		ORDER BY queue_number`
	maxNumberSQL = `SELECT COALESCE(MAX(queue_number), 0) FROM queue_entries
		WHERE clinic_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)`
	insertEntrySQL = `INSERT INTO queue_entries (id, clinic_id, appointment_id, patient_id, queue_number,
		status, created_at, called_at, serving_at, completed_at, fast_tracked, fast_tracked_at,
		fast_track_reason, fast_track_count, doctor_name, room)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	updateEntrySQL = `UPDATE queue_entries
		SET status = $3, called_at = $4, serving_at = $5, completed_at = $6,
		    fast_tracked = $7, fast_tracked_at = $8, fast_track_reason = $9, fast_track_count = $10
		WHERE id = $1 AND clinic_id = $2`
)

// PostgresStore keeps queue state in Postgres. The clinic lock is a row lock on
// clinic_queue_state held for the length of one transaction.
type PostgresStore struct {
	db          pgDB
	lockTimeout time.Duration
}

// NewPostgresStore wraps a pgx pool. lockTimeout is applied with SET LOCAL
// lock_timeout; zero leaves the server default.
func NewPostgresStore(db pgDB, lockTimeout time.Duration) *PostgresStore {
	if db == nil {
		panic("queue: postgres pool cannot be nil")
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) WithClinic(ctx context.Context, clinicID string, fn func(tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("queue: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("queue: set lock timeout: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, ensureStateSQL, clinicID); err != nil {
		return lockError(err)
	}
	state, err := scanState(tx.QueryRow(ctx, lockStateSQL, clinicID))
	if err != nil {
		return lockError(err)
	}

	if err := fn(&pgTx{q: tx, clinicID: clinicID, state: state}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("queue: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) EntryByAppointment(ctx context.Context, appointmentID string) (Entry, error) {
	return queryEntry(ctx, s.db, selectByAppointmentSQL, appointmentID)
}

func (s *PostgresStore) EntryByID(ctx context.Context, id string) (Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Entry{}, ErrNotFound
	}
	return queryEntry(ctx, s.db, selectByIDSQL, id)
}

func (s *PostgresStore) Entries(ctx context.Context, clinicID string, r Range) ([]Entry, error) {
	from, to := rangeArgs(r)
	return queryEntries(ctx, s.db, selectRangeSQL, clinicID, from, to)
}

func (s *PostgresStore) State(ctx context.Context, clinicID string) (ClinicState, error) {
	state, err := scanState(s.db.QueryRow(ctx, selectStateSQL, clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ClinicState{ClinicID: clinicID}, nil
	}
	if err != nil {
		return ClinicState{}, fmt.Errorf("queue: load state: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) ResetAll(ctx context.Context, boundary, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, resetAllSQL, boundary, now)
	if err != nil {
		return nil, fmt.Errorf("queue: reset all: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("queue: reset all: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: reset all: %w", err)
	}
	return ids, nil
}

type pgTx struct {
	q        querier
	clinicID string
	state    ClinicState
}

func (tx *pgTx) State() ClinicState { return tx.state }

func (tx *pgTx) SaveState(ctx context.Context, state ClinicState) error {
	_, err := tx.q.Exec(ctx, saveStateSQL, tx.clinicID, state.Running, state.Paused, state.LastResetAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("queue: save state: %w", err)
	}
	state.ClinicID = tx.clinicID
	tx.state = state
	return nil
}

func (tx *pgTx) EntryByAppointment(ctx context.Context, appointmentID string) (Entry, error) {
	return queryEntry(ctx, tx.q, selectByAppointmentSQL, appointmentID)
}

func (tx *pgTx) EntryByID(ctx context.Context, id string) (Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Entry{}, ErrNotFound
	}
	return queryEntry(ctx, tx.q, selectByIDInClinicSQL, id, tx.clinicID)
}

func (tx *pgTx) Entries(ctx context.Context, r Range) ([]Entry, error) {
	from, to := rangeArgs(r)
	return queryEntries(ctx, tx.q, selectRangeSQL, tx.clinicID, from, to)
}

func (tx *pgTx) ActiveEntries(ctx context.Context) ([]Entry, error) {
	return queryEntries(ctx, tx.q, selectActiveSQL, tx.clinicID)
}

func (tx *pgTx) MaxQueueNumber(ctx context.Context, r Range) (int, error) {
	from, to := rangeArgs(r)
	var highest int
	if err := tx.q.QueryRow(ctx, maxNumberSQL, tx.clinicID, from, to).Scan(&highest); err != nil {
		return 0, fmt.Errorf("queue: max queue number: %w", err)
	}
	return highest, nil
}

func (tx *pgTx) Insert(ctx context.Context, e Entry) error {
	_, err := tx.q.Exec(ctx, insertEntrySQL,
		e.ID, e.ClinicID, nullString(e.AppointmentID), e.PatientID, e.QueueNumber,
		string(e.Status), e.CreatedAt, e.CalledAt, e.ServingAt, e.CompletedAt,
		e.FastTracked, e.FastTrackedAt, nullString(e.FastTrackReason), e.FastTrackCount,
		e.DoctorName, e.Room,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("queue: appointment %s already queued: %w", e.AppointmentID, err)
		}
		return fmt.Errorf("queue: insert entry: %w", err)
	}
	return nil
}

func (tx *pgTx) Update(ctx context.Context, e Entry) error {
	tag, err := tx.q.Exec(ctx, updateEntrySQL,
		e.ID, tx.clinicID, string(e.Status), e.CalledAt, e.ServingAt, e.CompletedAt,
		e.FastTracked, e.FastTrackedAt, nullString(e.FastTrackReason), e.FastTrackCount,
	)
	if err != nil {
		return fmt.Errorf("queue: update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (ClinicState, error) {
	var st ClinicState
	if err := row.Scan(&st.ClinicID, &st.Running, &st.Paused, &st.LastResetAt, &st.UpdatedAt); err != nil {
		return ClinicState{}, err
	}
	return st, nil
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e             Entry
		appointmentID *string
		reason        *string
		status        string
	)
	err := row.Scan(
		&e.ID, &e.ClinicID, &appointmentID, &e.PatientID, &e.QueueNumber, &status, &e.CreatedAt,
		&e.CalledAt, &e.ServingAt, &e.CompletedAt, &e.FastTracked, &e.FastTrackedAt, &reason,
		&e.FastTrackCount, &e.DoctorName, &e.Room,
	)
	if err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	if appointmentID != nil {
		e.AppointmentID = *appointmentID
	}
	if reason != nil {
		e.FastTrackReason = *reason
	}
	return e, nil
}

func queryEntry(ctx context.Context, q querier, sql string, args ...any) (Entry, error) {
	e, err := scanEntry(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("queue: load entry: %w", err)
	}
	return e, nil
}

func queryEntries(ctx context.Context, q querier, sql string, args ...any) ([]Entry, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: list entries: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: list entries: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: list entries: %w", err)
	}
	return out, nil
}

func rangeArgs(r Range) (*time.Time, *time.Time) {
	var from, to *time.Time
	if !r.From.IsZero() {
		f := r.From
		from = &f
	}
	if !r.To.IsZero() {
		t := r.To
		to = &t
	}
	return from, to
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func lockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %v", ErrQueueBusy, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrQueueBusy, err)
	}
	return fmt.Errorf("queue: lock clinic: %w", err)
}

var _ Store = (*PostgresStore)(nil)
