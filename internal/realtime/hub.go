package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/clinic-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

const (
	defaultSendBuffer      = 8
	defaultSnapshotTimeout = 5 * time.Second
)

// StatusSource loads the current queue for a clinic.
type StatusSource interface {
	Status(ctx context.Context, clinicID string, q queue.StatusQuery) (queue.StatusView, error)
}

// Broker fans change events out to every API instance.
type Broker interface {
	Publish(ctx context.Context, clinicID string) error
	Subscribe(ctx context.Context, fn func(ctx context.Context, clinicID string)) error
}

// Update is what a display receives.
type Update struct {
	Type   string            `json:"type"` // "snapshot", "error", "pong"
	Status *queue.StatusView `json:"status,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// inbound is what a display may send.
type inbound struct {
	Type string `json:"type"` // "ping", "refresh"
}

type subscriber struct {
	clinicID string
	send     chan Update
}

// Hub keeps waiting-room displays in sync with the queue. Each connected
// display is subscribed to one clinic and receives a full snapshot whenever
// that clinic changes.
type Hub struct {
	source          StatusSource
	broker          Broker
	metrics         *metrics.QueueMetrics
	logger          *logging.Logger
	snapshotTimeout time.Duration

	loads singleflight.Group

	genMu       sync.Mutex
	generations map[string]uint64

	mu      sync.RWMutex
	clinics map[string]map[*subscriber]struct{}
}

func NewHub(source StatusSource, logger *logging.Logger) *Hub {
	if source == nil {
		panic("realtime: status source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		source:          source,
		logger:          logger,
		snapshotTimeout: defaultSnapshotTimeout,
		generations:     make(map[string]uint64),
		clinics:         make(map[string]map[*subscriber]struct{}),
	}
}

// WithBroker routes change events through b so displays attached to other
// instances refresh too.
func (h *Hub) WithBroker(b Broker) *Hub {
	h.broker = b
	return h
}

func (h *Hub) WithMetrics(m *metrics.QueueMetrics) *Hub {
	h.metrics = m
	return h
}

// ClinicChanged implements queue.ChangeListener.
func (h *Hub) ClinicChanged(ctx context.Context, clinicID string) error {
	if h.broker != nil {
		return h.broker.Publish(ctx, clinicID)
	}
	return h.Broadcast(ctx, clinicID)
}

// Run consumes broker events until ctx is done. Without a broker it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}
	return h.broker.Subscribe(ctx, func(ctx context.Context, clinicID string) {
		if err := h.Broadcast(ctx, clinicID); err != nil {
			h.logger.Warn("realtime: broadcast failed", "error", err, "clinic_id", clinicID)
		}
	})
}

// Broadcast pushes a fresh snapshot to every local display of the clinic.
// The load never joins one that started before the change; if a later change
// arrives while loading, delivery is left to that broadcast.
func (h *Hub) Broadcast(ctx context.Context, clinicID string) error {
	subs := h.subscribers(clinicID)
	if len(subs) == 0 {
		return nil
	}
	gen := h.bump(clinicID)
	h.loads.Forget(clinicID)
	view, err := h.snapshot(ctx, clinicID)
	if err != nil {
		return err
	}
	if h.generation(clinicID) != gen {
		return nil
	}
	for _, sub := range subs {
		h.deliver(sub, Update{Type: "snapshot", Status: &view})
	}
	return nil
}

// Connections reports how many displays are attached to clinicID.
func (h *Hub) Connections(clinicID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clinics[clinicID])
}

// HandleDisplay upgrades to a websocket for /api/queue/display/ws?clinicId=...
func (h *Hub) HandleDisplay(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveDisplay(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Hub) serveDisplay(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinicId"))
	if clinicID == "" {
		_ = websocket.JSON.Send(conn, Update{Type: "error", Error: "missing clinicId parameter"})
		return
	}

	sub := h.subscribe(clinicID)
	defer h.unsubscribe(sub)
	h.logger.Info("realtime: display connected", "clinic_id", clinicID)

	if err := h.sendSnapshot(ctx, conn, clinicID); err != nil {
		h.logger.Debug("realtime: initial snapshot not delivered", "clinic_id", clinicID, "error", err)
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg inbound
			if err := websocket.JSON.Receive(conn, &msg); err != nil {
				return
			}
			switch msg.Type {
			case "ping":
				h.deliver(sub, Update{Type: "pong"})
			case "refresh":
				gen := h.generation(clinicID)
				view, err := h.snapshot(ctx, clinicID)
				if err != nil {
					h.deliver(sub, Update{Type: "error", Error: "queue unavailable"})
					continue
				}
				if h.generation(clinicID) == gen {
					h.deliver(sub, Update{Type: "snapshot", Status: &view})
				}
			}
		}
	}()

	for {
		select {
		case <-closed:
			h.logger.Debug("realtime: display disconnected", "clinic_id", clinicID)
			return
		case <-ctx.Done():
			return
		case u := <-sub.send:
			if err := websocket.JSON.Send(conn, u); err != nil {
				h.logger.Debug("realtime: send failed", "clinic_id", clinicID, "error", err)
				return
			}
		}
	}
}

func (h *Hub) sendSnapshot(ctx context.Context, conn *websocket.Conn, clinicID string) error {
	view, err := h.snapshot(ctx, clinicID)
	if err != nil {
		h.logger.Warn("realtime: snapshot load failed", "error", err, "clinic_id", clinicID)
		return websocket.JSON.Send(conn, Update{Type: "error", Error: "queue unavailable"})
	}
	return websocket.JSON.Send(conn, Update{Type: "snapshot", Status: &view})
}

// snapshot coalesces concurrent loads for the same clinic into one query.
func (h *Hub) snapshot(ctx context.Context, clinicID string) (queue.StatusView, error) {
	v, err, _ := h.loads.Do(clinicID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.snapshotTimeout)
		defer cancel()
		return h.source.Status(loadCtx, clinicID, queue.StatusQuery{})
	})
	if err != nil {
		return queue.StatusView{}, fmt.Errorf("realtime: load status for %s: %w", clinicID, err)
	}
	view, ok := v.(queue.StatusView)
	if !ok {
		return queue.StatusView{}, errors.New("realtime: unexpected snapshot type")
	}
	return view, nil
}

func (h *Hub) bump(clinicID string) uint64 {
	h.genMu.Lock()
	defer h.genMu.Unlock()
	h.generations[clinicID]++
	return h.generations[clinicID]
}

func (h *Hub) generation(clinicID string) uint64 {
	h.genMu.Lock()
	defer h.genMu.Unlock()
	return h.generations[clinicID]
}

// deliver never blocks; a display that cannot keep up misses intermediate
// snapshots and catches up on the next one.
func (h *Hub) deliver(sub *subscriber, u Update) {
	select {
	case sub.send <- u:
	default:
		h.logger.Debug("realtime: display buffer full, dropping update", "clinic_id", sub.clinicID, "type", u.Type)
	}
}

func (h *Hub) subscribe(clinicID string) *subscriber {
	sub := &subscriber{clinicID: clinicID, send: make(chan Update, defaultSendBuffer)}
	h.mu.Lock()
	subs, ok := h.clinics[clinicID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.clinics[clinicID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.DisplayConnected()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.clinics[sub.clinicID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.clinics, sub.clinicID)
		}
	}
	h.mu.Unlock()
	h.metrics.DisplayDisconnected()
}

func (h *Hub) subscribers(clinicID string) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]*subscriber, 0, len(h.clinics[clinicID]))
	for sub := range h.clinics[clinicID] {
		subs = append(subs, sub)
	}
	return subs
}

var _ queue.ChangeListener = (*Hub)(nil)
