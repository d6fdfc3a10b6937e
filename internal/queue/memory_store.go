package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Each clinic has its own lock so clinics
// never wait on each other.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	byAppt  map[string]string
	states  map[string]ClinicState

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

// NewMemoryStore creates an empty store. lockTimeout bounds how long a caller
// waits for a busy clinic; zero waits until the context is done.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:     make(map[string]Entry),
		byAppt:      make(map[string]string),
		states:      make(map[string]ClinicState),
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) clinicLock(clinicID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[clinicID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[clinicID] = ch
	}
	return ch
}

func (s *MemoryStore) acquire(ctx context.Context, clinicID string) (func(), error) {
	ch := s.clinicLock(clinicID)
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		timer := time.NewTimer(s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timeout:
		return nil, ErrQueueBusy
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrQueueBusy, ctx.Err())
	}
}

func (s *MemoryStore) WithClinic(ctx context.Context, clinicID string, fn func(tx Tx) error) error {
	release, err := s.acquire(ctx, clinicID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.RLock()
	state, ok := s.states[clinicID]
	s.mu.RUnlock()
	tx := &memoryTx{
		store:      s,
		clinicID:   clinicID,
		state:      state,
		stateDirty: !ok,
		pending:    make(map[string]Entry),
	}
	if !ok {
		tx.state = ClinicState{ClinicID: clinicID}
	}

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) EntryByAppointment(_ context.Context, appointmentID string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAppt[appointmentID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return s.entries[id], nil
}

func (s *MemoryStore) EntryByID(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Entries(_ context.Context, clinicID string, r Range) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.ClinicID == clinicID && r.Contains(e.CreatedAt) {
			out = append(out, e)
		}
	}
	sortByNumber(out)
	return out, nil
}

func (s *MemoryStore) State(_ context.Context, clinicID string) (ClinicState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[clinicID]; ok {
		return st, nil
	}
	return ClinicState{ClinicID: clinicID}, nil
}

func (s *MemoryStore) ResetAll(ctx context.Context, boundary, now time.Time) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		release, err := s.acquire(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("queue: reset clinic %s: %w", id, err)
		}
		s.mu.Lock()
		st := s.states[id]
		at := boundary
		st.Running = false
		st.Paused = false
		st.LastResetAt = &at
		st.UpdatedAt = now
		s.states[id] = st
		s.mu.Unlock()
		release()
	}
	return ids, nil
}

type memoryTx struct {
	store      *MemoryStore
	clinicID   string
	state      ClinicState
	stateDirty bool
	pending    map[string]Entry
}

func (tx *memoryTx) State() ClinicState { return tx.state }

func (tx *memoryTx) SaveState(_ context.Context, state ClinicState) error {
	state.ClinicID = tx.clinicID
	tx.state = state
	tx.stateDirty = true
	return nil
}

// snapshot merges committed entries of the clinic with staged writes.
func (tx *memoryTx) snapshot() []Entry {
	tx.store.mu.RLock()
	out := make([]Entry, 0, len(tx.pending))
	for id, e := range tx.store.entries {
		if e.ClinicID != tx.clinicID {
			continue
		}
		if staged, ok := tx.pending[id]; ok {
			e = staged
		}
		out = append(out, e)
	}
	for id, e := range tx.pending {
		if _, ok := tx.store.entries[id]; !ok {
			out = append(out, e)
		}
	}
	tx.store.mu.RUnlock()
	return out
}

func (tx *memoryTx) EntryByAppointment(_ context.Context, appointmentID string) (Entry, error) {
	for _, e := range tx.snapshot() {
		if e.AppointmentID != "" && e.AppointmentID == appointmentID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (tx *memoryTx) EntryByID(_ context.Context, id string) (Entry, error) {
	if e, ok := tx.pending[id]; ok {
		return e, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	e, ok := tx.store.entries[id]
	if !ok || e.ClinicID != tx.clinicID {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (tx *memoryTx) Entries(_ context.Context, r Range) ([]Entry, error) {
	var out []Entry
	for _, e := range tx.snapshot() {
		if r.Contains(e.CreatedAt) {
			out = append(out, e)
		}
	}
	sortByNumber(out)
	return out, nil
}

func (tx *memoryTx) ActiveEntries(_ context.Context) ([]Entry, error) {
	var out []Entry
	for _, e := range tx.snapshot() {
		if e.Status.Active() {
			out = append(out, e)
		}
	}
	sortByNumber(out)
	return out, nil
}

func (tx *memoryTx) MaxQueueNumber(ctx context.Context, r Range) (int, error) {
	entries, _ := tx.Entries(ctx, r)
	highest := 0
	for _, e := range entries {
		if e.QueueNumber > highest {
			highest = e.QueueNumber
		}
	}
	return highest, nil
}

func (tx *memoryTx) Insert(_ context.Context, e Entry) error {
	if e.ClinicID != tx.clinicID {
		return fmt.Errorf("queue: insert entry for clinic %s inside clinic %s", e.ClinicID, tx.clinicID)
	}
	if e.AppointmentID != "" {
		tx.store.mu.RLock()
		_, taken := tx.store.byAppt[e.AppointmentID]
		tx.store.mu.RUnlock()
		if taken {
			return fmt.Errorf("queue: appointment %s already queued", e.AppointmentID)
		}
	}
	tx.pending[e.ID] = e
	return nil
}

func (tx *memoryTx) Update(ctx context.Context, e Entry) error {
	if _, err := tx.EntryByID(ctx, e.ID); err != nil {
		return err
	}
	tx.pending[e.ID] = e
	return nil
}

func (tx *memoryTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range tx.pending {
		s.entries[id] = e
		if e.AppointmentID != "" {
			s.byAppt[e.AppointmentID] = id
		}
	}
	if tx.stateDirty {
		s.states[tx.clinicID] = tx.state
	}
}

func sortByNumber(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].QueueNumber != entries[j].QueueNumber {
			return entries[i].QueueNumber < entries[j].QueueNumber
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
