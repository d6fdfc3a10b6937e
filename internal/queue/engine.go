package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

var queueTracer = otel.Tracer("medspa.internal.queue")

// Config wires an Engine.
type Config struct {
	Store      Store
	Directory  AppointmentDirectory
	Gate       AppointmentGate
	Dispatcher *Dispatcher
	Clock      Clock
	// Location defines the clinic calendar day. Defaults to UTC.
	Location *time.Location
	// MaxFastTracks caps how often a single entry may be fast-tracked.
	// Zero or negative disables the cap.
	MaxFastTracks int
	Logger        *logging.Logger
	Metrics       *metrics.QueueMetrics
}

// Engine orchestrates the per-clinic live queue.
type Engine struct {
	store         Store
	directory     AppointmentDirectory
	gate          AppointmentGate
	dispatch      *Dispatcher
	clock         Clock
	loc           *time.Location
	maxFastTracks int
	logger        *logging.Logger
	metrics       *metrics.QueueMetrics
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("queue: store is required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("queue: appointment directory is required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("queue: appointment gate is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher(nil, cfg.Logger, cfg.Metrics)
	}
	return &Engine{
		store:         cfg.Store,
		directory:     cfg.Directory,
		gate:          cfg.Gate,
		dispatch:      cfg.Dispatcher,
		clock:         cfg.Clock,
		loc:           cfg.Location,
		maxFastTracks: cfg.MaxFastTracks,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}, nil
}

// Location is the calendar the engine resets on.
func (e *Engine) Location() *time.Location { return e.loc }

// Enqueue gives the appointment's patient the next number in their clinic's
// current window. Repeated calls return the original entry.
func (e *Engine) Enqueue(ctx context.Context, appointmentID string) (entry Entry, err error) {
	ctx, span := queueTracer.Start(ctx, "queue.enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", appointmentID))
	defer e.finish(span, "enqueue", time.Now(), &err)

	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return Entry{}, fmt.Errorf("%w: appointment id is required", ErrInvalidInput)
	}

	existing, err := e.store.EntryByAppointment(ctx, appointmentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Entry{}, fmt.Errorf("queue: enqueue: %w", err)
	}

	info, err := e.directory.Lookup(ctx, appointmentID)
	if err != nil {
		return Entry{}, fmt.Errorf("queue: enqueue: lookup appointment %s: %w", appointmentID, err)
	}

	created := false
	ahead := 0
	err = e.store.WithClinic(ctx, info.ClinicID, func(tx Tx) error {
		current, lookupErr := tx.EntryByAppointment(ctx, appointmentID)
		if lookupErr == nil {
			entry = current
			return nil
		}
		if !errors.Is(lookupErr, ErrNotFound) {
			return lookupErr
		}

		now := e.clock.Now()
		window := e.window(tx.State(), now)
		highest, txErr := tx.MaxQueueNumber(ctx, window)
		if txErr != nil {
			return txErr
		}
		entry = Entry{
			ID:            uuid.NewString(),
			ClinicID:      info.ClinicID,
			AppointmentID: appointmentID,
			PatientID:     info.PatientID,
			QueueNumber:   highest + 1,
			Status:        StatusQueued,
			CreatedAt:     now,
			DoctorName:    info.DoctorName,
			Room:          info.Room,
		}
		if txErr := tx.Insert(ctx, entry); txErr != nil {
			return txErr
		}
		inWindow, txErr := tx.Entries(ctx, window)
		if txErr != nil {
			return txErr
		}
		ahead = countAhead(inWindow, entry)
		created = true
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("queue: enqueue: %w", err)
	}

	span.SetAttributes(attribute.String("clinic_id", entry.ClinicID), attribute.Int("queue_number", entry.QueueNumber))
	if created {
		e.logger.Info("queue: patient enqueued",
			"clinic_id", entry.ClinicID,
			"appointment_id", appointmentID,
			"entry_id", entry.ID,
			"queue_number", entry.QueueNumber,
			"ahead", ahead,
		)
		e.dispatch.Notify(noticeFor(NoticeQueued, entry, ahead))
		e.dispatch.Changed(entry.ClinicID)
	}
	return entry, nil
}

// FastTrack moves a waiting entry ahead of every regular entry. Entries that
// are no longer waiting are returned unchanged.
func (e *Engine) FastTrack(ctx context.Context, appointmentID, reason string) (entry Entry, err error) {
	ctx, span := queueTracer.Start(ctx, "queue.fast_track")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", appointmentID))
	defer e.finish(span, "fast_track", time.Now(), &err)

	appointmentID = strings.TrimSpace(appointmentID)
	if appointmentID == "" {
		return Entry{}, fmt.Errorf("%w: appointment id is required", ErrInvalidInput)
	}
	existing, err := e.store.EntryByAppointment(ctx, appointmentID)
	if err != nil {
		return Entry{}, fmt.Errorf("queue: fast track: %w", err)
	}

	changed := false
	ahead := 0
	err = e.store.WithClinic(ctx, existing.ClinicID, func(tx Tx) error {
		current, txErr := tx.EntryByAppointment(ctx, appointmentID)
		if txErr != nil {
			return txErr
		}
		to, ok := nextStatus(actionFastTrack, current.Status)
		if !ok {
			entry = current
			return nil
		}
		if e.maxFastTracks > 0 && current.FastTrackCount >= e.maxFastTracks {
			return fmt.Errorf("%w: queue number %d fast-tracked %d times", ErrFastTrackLimit, current.QueueNumber, current.FastTrackCount)
		}

		now := e.clock.Now()
		current.Status = to
		current.FastTracked = true
		current.FastTrackedAt = &now
		current.FastTrackReason = strings.TrimSpace(reason)
		current.FastTrackCount++
		if txErr := tx.Update(ctx, current); txErr != nil {
			return txErr
		}
		inWindow, txErr := tx.Entries(ctx, e.window(tx.State(), now))
		if txErr != nil {
			return txErr
		}
		ahead = countAhead(inWindow, current)
		entry = current
		changed = true
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("queue: fast track: %w", err)
	}

	if !changed {
		e.logger.Info("queue: fast track ignored, entry not waiting",
			"clinic_id", entry.ClinicID,
			"appointment_id", appointmentID,
			"status", entry.Status,
		)
		return entry, nil
	}
	e.logger.Info("queue: entry fast-tracked",
		"clinic_id", entry.ClinicID,
		"appointment_id", appointmentID,
		"queue_number", entry.QueueNumber,
		"reason", entry.FastTrackReason,
	)
	e.dispatch.Notify(noticeFor(NoticeFastTracked, entry, ahead))
	e.dispatch.Changed(entry.ClinicID)
	return entry, nil
}

// CallNext calls the next waiting patient of clinicID. It refuses while the
// clinic's active patient has not been closed out with a treatment summary.
func (e *Engine) CallNext(ctx context.Context, clinicID string) (called Entry, err error) {
	ctx, span := queueTracer.Start(ctx, "queue.call_next")
	defer span.End()
	span.SetAttributes(attribute.String("clinic_id", clinicID))
	defer e.finish(span, "call_next", time.Now(), &err)

	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return Entry{}, fmt.Errorf("%w: clinic id is required", ErrInvalidInput)
	}

	var remaining []Entry
	err = e.store.WithClinic(ctx, clinicID, func(tx Tx) error {
		active, txErr := tx.ActiveEntries(ctx)
		if txErr != nil {
			return txErr
		}
		for _, a := range active {
			if a.AppointmentID == "" {
				return fmt.Errorf("%w: queue number %d has no linked appointment", ErrPreviousNotCompleted, a.QueueNumber)
			}
			done, gateErr := e.gate.IsCompletedWithSummary(ctx, a.AppointmentID)
			if gateErr != nil {
				return fmt.Errorf("check appointment %s: %w", a.AppointmentID, gateErr)
			}
			if !done {
				return fmt.Errorf("%w: queue number %d", ErrPreviousNotCompleted, a.QueueNumber)
			}
		}

		now := e.clock.Now()
		inWindow, txErr := tx.Entries(ctx, e.window(tx.State(), now))
		if txErr != nil {
			return txErr
		}
		waiting := waitingOrder(inWindow)
		if len(waiting) == 0 {
			return ErrEmptyQueue
		}

		for _, a := range active {
			to, _ := nextStatus(actionComplete, a.Status)
			a.Status = to
			a.CompletedAt = &now
			if txErr := tx.Update(ctx, a); txErr != nil {
				return txErr
			}
		}

		next := waiting[0]
		to, _ := nextStatus(actionCall, next.Status)
		next.Status = to
		next.CalledAt = &now
		next.FastTracked = false
		next.FastTrackedAt = nil
		if txErr := tx.Update(ctx, next); txErr != nil {
			return txErr
		}
		called = next
		remaining = waiting[1:]
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrEmptyQueue) {
			e.logger.Warn("queue: call next refused", "clinic_id", clinicID, "error", err)
		}
		return Entry{}, fmt.Errorf("queue: call next: %w", err)
	}

	span.SetAttributes(attribute.Int("queue_number", called.QueueNumber))
	e.logger.Info("queue: patient called",
		"clinic_id", clinicID,
		"entry_id", called.ID,
		"appointment_id", called.AppointmentID,
		"queue_number", called.QueueNumber,
		"waiting", len(remaining),
	)
	e.dispatch.Notify(noticeFor(NoticeCalled, called, 0))
	for i, w := range remaining {
		e.dispatch.Notify(noticeFor(NoticeQueued, w, i+1))
	}
	e.dispatch.Changed(clinicID)
	return called, nil
}

// AppointmentClinic returns the clinic an appointment is booked at.
func (e *Engine) AppointmentClinic(ctx context.Context, appointmentID string) (string, error) {
	info, err := e.directory.Lookup(ctx, strings.TrimSpace(appointmentID))
	if err != nil {
		return "", fmt.Errorf("queue: appointment clinic: %w", err)
	}
	return info.ClinicID, nil
}

// Entry returns a single queue entry by id.
func (e *Engine) Entry(ctx context.Context, entryID string) (Entry, error) {
	entry, err := e.store.EntryByID(ctx, strings.TrimSpace(entryID))
	if err != nil {
		return Entry{}, fmt.Errorf("queue: entry: %w", err)
	}
	return entry, nil
}

// BeginService marks a called patient as being served.
func (e *Engine) BeginService(ctx context.Context, entryID string) (Entry, error) {
	return e.transition(ctx, "begin_service", entryID, "", actionServe)
}

// Complete closes the active entry linked to appointmentID. Completing an
// already completed entry is a no-op.
func (e *Engine) Complete(ctx context.Context, appointmentID string) (Entry, error) {
	return e.transition(ctx, "complete", "", appointmentID, actionComplete)
}

// ForceComplete closes the entry linked to appointmentID whatever its status,
// including a patient who was never called.
func (e *Engine) ForceComplete(ctx context.Context, appointmentID string) (Entry, error) {
	return e.transition(ctx, "force_complete", "", appointmentID, actionClose)
}

func (e *Engine) transition(ctx context.Context, op, entryID, appointmentID string, act action) (entry Entry, err error) {
	ctx, span := queueTracer.Start(ctx, "queue."+op)
	defer span.End()
	span.SetAttributes(attribute.String("entry_id", entryID), attribute.String("appointment_id", appointmentID))
	defer e.finish(span, op, time.Now(), &err)

	var existing Entry
	switch {
	case strings.TrimSpace(entryID) != "":
		existing, err = e.store.EntryByID(ctx, entryID)
	case strings.TrimSpace(appointmentID) != "":
		existing, err = e.store.EntryByAppointment(ctx, appointmentID)
	default:
		return Entry{}, fmt.Errorf("%w: entry or appointment id is required", ErrInvalidInput)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("queue: %s: %w", op, err)
	}

	changed := false
	err = e.store.WithClinic(ctx, existing.ClinicID, func(tx Tx) error {
		current, txErr := tx.EntryByID(ctx, existing.ID)
		if txErr != nil {
			return txErr
		}
		if (act == actionComplete || act == actionClose) && current.Status == StatusCompleted {
			entry = current
			return nil
		}
		to, ok := nextStatus(act, current.Status)
		if !ok {
			return fmt.Errorf("%w: cannot %s entry in status %s", ErrInvalidTransition, act, current.Status)
		}
		now := e.clock.Now()
		current.Status = to
		switch to {
		case StatusServing:
			current.ServingAt = &now
		case StatusCompleted:
			current.CompletedAt = &now
			current.FastTracked = false
			current.FastTrackedAt = nil
		}
		if txErr := tx.Update(ctx, current); txErr != nil {
			return txErr
		}
		entry = current
		changed = true
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("queue: %s: %w", op, err)
	}
	if changed {
		e.logger.Info("queue: entry status changed",
			"clinic_id", entry.ClinicID,
			"entry_id", entry.ID,
			"queue_number", entry.QueueNumber,
			"status", entry.Status,
		)
		e.dispatch.Changed(entry.ClinicID)
	}
	return entry, nil
}

// StatusQuery selects which entries Status returns. Date (yyyy-MM-dd, UTC)
// takes precedence over the current window; All ignores both.
type StatusQuery struct {
	Date string
	All  bool
}

// Status returns a clinic's entries ordered by queue number plus its run flags.
func (e *Engine) Status(ctx context.Context, clinicID string, q StatusQuery) (view StatusView, err error) {
	ctx, span := queueTracer.Start(ctx, "queue.status")
	defer span.End()
	span.SetAttributes(attribute.String("clinic_id", clinicID), attribute.Bool("all", q.All))
	defer e.finish(span, "status", time.Now(), &err)

	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return StatusView{}, fmt.Errorf("%w: clinic id is required", ErrInvalidInput)
	}
	state, err := e.store.State(ctx, clinicID)
	if err != nil {
		return StatusView{}, fmt.Errorf("queue: status: %w", err)
	}

	var r Range
	switch {
	case q.All:
	case strings.TrimSpace(q.Date) != "":
		r, err = DayRange(strings.TrimSpace(q.Date), e.loc)
		if err != nil {
			return StatusView{}, fmt.Errorf("%w: date must be yyyy-MM-dd: %v", ErrInvalidInput, err)
		}
	default:
		r = e.window(state, e.clock.Now())
	}

	entries, err := e.store.Entries(ctx, clinicID, r)
	if err != nil {
		return StatusView{}, fmt.Errorf("queue: status: %w", err)
	}
	view = buildStatusView(state, entries)
	view.ClinicID = clinicID
	view.Date = strings.TrimSpace(q.Date)
	view.AllHistory = q.All
	return view, nil
}

// History returns every entry the clinic ever had, ignoring the reset boundary.
func (e *Engine) History(ctx context.Context, clinicID string) (StatusView, error) {
	return e.Status(ctx, clinicID, StatusQuery{All: true})
}

// PatientStatus shows one patient where they stand in their clinic's queue.
func (e *Engine) PatientStatus(ctx context.Context, appointmentID string) (view PatientView, err error) {
	ctx, span := queueTracer.Start(ctx, "queue.patient_status")
	defer span.End()
	span.SetAttributes(attribute.String("appointment_id", appointmentID))
	defer e.finish(span, "patient_status", time.Now(), &err)

	entry, err := e.store.EntryByAppointment(ctx, strings.TrimSpace(appointmentID))
	if err != nil {
		return PatientView{}, fmt.Errorf("queue: patient status: %w", err)
	}
	state, err := e.store.State(ctx, entry.ClinicID)
	if err != nil {
		return PatientView{}, fmt.Errorf("queue: patient status: %w", err)
	}
	entries, err := e.store.Entries(ctx, entry.ClinicID, e.window(state, e.clock.Now()))
	if err != nil {
		return PatientView{}, fmt.Errorf("queue: patient status: %w", err)
	}
	summary := buildStatusView(state, entries)
	view = PatientView{
		Entry:               entry.View(),
		QueueStarted:        state.Running,
		QueuePaused:         state.Paused,
		CurrentCalledNumber: summary.CurrentCalledNumber,
	}
	if entry.Status == StatusQueued {
		view.Ahead = countAhead(entries, entry)
	}
	return view, nil
}

// Start marks the clinic's queue as staffed and running.
func (e *Engine) Start(ctx context.Context, clinicID string) error {
	return e.setRunState(ctx, "start", clinicID, func(st *ClinicState) {
		st.Running = true
		st.Paused = false
	})
}

// Pause flags the queue as paused. Running is left as is.
func (e *Engine) Pause(ctx context.Context, clinicID string) error {
	return e.setRunState(ctx, "pause", clinicID, func(st *ClinicState) {
		st.Paused = true
	})
}

// Resume clears the paused flag.
func (e *Engine) Resume(ctx context.Context, clinicID string) error {
	return e.setRunState(ctx, "resume", clinicID, func(st *ClinicState) {
		st.Paused = false
	})
}

func (e *Engine) setRunState(ctx context.Context, op, clinicID string, apply func(*ClinicState)) (err error) {
	ctx, span := queueTracer.Start(ctx, "queue."+op)
	defer span.End()
	span.SetAttributes(attribute.String("clinic_id", clinicID))
	defer e.finish(span, op, time.Now(), &err)

	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return fmt.Errorf("%w: clinic id is required", ErrInvalidInput)
	}
	err = e.store.WithClinic(ctx, clinicID, func(tx Tx) error {
		st := tx.State()
		apply(&st)
		st.UpdatedAt = e.clock.Now()
		return tx.SaveState(ctx, st)
	})
	if err != nil {
		return fmt.Errorf("queue: %s: %w", op, err)
	}
	e.logger.Info("queue: run state changed", "clinic_id", clinicID, "operation", op)
	e.dispatch.Changed(clinicID)
	return nil
}

// ResetResult reports what a daily reset touched.
type ResetResult struct {
	Boundary  time.Time
	ClinicIDs []string
}

// ResetDaily stops every clinic queue and starts a new numbering window at the
// start of now's day. No entry is modified.
func (e *Engine) ResetDaily(ctx context.Context, now time.Time) (res ResetResult, err error) {
	ctx, span := queueTracer.Start(ctx, "queue.reset_daily")
	defer span.End()
	defer e.finish(span, "reset_daily", time.Now(), &err)

	boundary := StartOfDay(now, e.loc)
	ids, err := e.store.ResetAll(ctx, boundary, now)
	if err != nil {
		return ResetResult{}, fmt.Errorf("queue: reset daily: %w", err)
	}
	e.metrics.ObserveReset(len(ids))
	span.SetAttributes(attribute.Int("clinics", len(ids)))
	e.logger.Info("queue: daily reset applied", "boundary", boundary, "clinics", len(ids))
	for _, id := range ids {
		e.dispatch.Changed(id)
	}
	return ResetResult{Boundary: boundary, ClinicIDs: ids}, nil
}

func (e *Engine) window(state ClinicState, now time.Time) Range {
	b := WindowStart(state.LastResetAt, now, e.loc)
	if b.Stale {
		e.metrics.ObserveStaleBoundary()
		e.logger.Warn("queue: reset boundary stale, using start of day",
			"clinic_id", state.ClinicID,
			"last_reset_at", state.LastResetAt,
			"boundary", b.At,
		)
	}
	return Range{From: b.At}
}

func (e *Engine) finish(span trace.Span, op string, start time.Time, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = KindOf(*errp).String()
		span.RecordError(*errp)
	}
	e.metrics.ObserveOperation(op, outcome, time.Since(start).Seconds())
}

// callsBefore reports whether a is called before b: fast-tracked entries by
// fast-track time, then everyone else by queue number.
func callsBefore(a, b Entry) bool {
	if a.FastTracked != b.FastTracked {
		return a.FastTracked
	}
	if a.FastTracked {
		at, bt := fastTrackTime(a), fastTrackTime(b)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
	}
	return a.QueueNumber < b.QueueNumber
}

func fastTrackTime(e Entry) time.Time {
	if e.FastTrackedAt == nil {
		return time.Time{}
	}
	return *e.FastTrackedAt
}

// waitingOrder returns the QUEUED entries in the order they will be called.
func waitingOrder(entries []Entry) []Entry {
	var waiting []Entry
	for _, e := range entries {
		if e.Status == StatusQueued {
			waiting = append(waiting, e)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		return callsBefore(waiting[i], waiting[j])
	})
	return waiting
}

// countAhead counts the patients served before target: the active patient
// plus every waiting entry that is called earlier.
func countAhead(entries []Entry, target Entry) int {
	ahead := 0
	for _, e := range entries {
		if e.ID == target.ID {
			continue
		}
		if e.Status.Active() || (e.Status == StatusQueued && callsBefore(e, target)) {
			ahead++
		}
	}
	return ahead
}

func buildStatusView(state ClinicState, entries []Entry) StatusView {
	view := StatusView{
		ClinicID: state.ClinicID,
		Running:  state.Running,
		Paused:   state.Paused,
		Entries:  make([]EntryView, 0, len(entries)),
	}
	for _, e := range entries {
		view.Entries = append(view.Entries, e.View())
		switch {
		case e.Status == StatusQueued:
			view.WaitingCount++
		case e.Status.Active() && view.CurrentCalledNumber == nil:
			n := e.QueueNumber
			view.CurrentCalledNumber = &n
		}
	}
	return view
}
