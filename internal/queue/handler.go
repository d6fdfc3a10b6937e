package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/clinic-frontdesk/internal/http/middleware"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Handler exposes the queue engine over HTTP.
type Handler struct {
	engine *Engine
	logger *logging.Logger
}

func NewHandler(engine *Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

type appointmentRequest struct {
	AppointmentID string `json:"appointmentId"`
	Reason        string `json:"reason,omitempty"`
}

type clinicRequest struct {
	ClinicID string `json:"clinicId"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Enqueue handles POST /api/queue/enqueue.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !h.permitAppointment(w, r, "enqueue", req.AppointmentID) {
		return
	}
	entry, err := h.engine.Enqueue(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeError(w, "enqueue", err)
		return
	}
	writeJSON(w, http.StatusOK, entry.View())
}

// FastTrack handles POST /api/queue/fast-track.
func (h *Handler) FastTrack(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !h.permitAppointment(w, r, "fast track", req.AppointmentID) {
		return
	}
	entry, err := h.engine.FastTrack(r.Context(), req.AppointmentID, req.Reason)
	if err != nil {
		h.writeError(w, "fast track", err)
		return
	}
	writeJSON(w, http.StatusOK, entry.View())
}

// CallNext handles POST /api/queue/call-next.
func (h *Handler) CallNext(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeClinic(w, r)
	if !ok || !permit(w, r, req.ClinicID) {
		return
	}
	entry, err := h.engine.CallNext(r.Context(), req.ClinicID)
	if err != nil {
		h.writeError(w, "call next", err)
		return
	}
	writeJSON(w, http.StatusOK, entry.View())
}

// BeginService handles POST /api/queue/entries/{entryID}/serve.
func (h *Handler) BeginService(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	if httpmiddleware.ClinicRestricted(r.Context()) {
		existing, err := h.engine.Entry(r.Context(), entryID)
		if err != nil {
			h.writeError(w, "begin service", err)
			return
		}
		if !permit(w, r, existing.ClinicID) {
			return
		}
	}
	entry, err := h.engine.BeginService(r.Context(), entryID)
	if err != nil {
		h.writeError(w, "begin service", err)
		return
	}
	writeJSON(w, http.StatusOK, entry.View())
}

// Start handles POST /api/queue/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.runState(w, r, "start", h.engine.Start)
}

// Pause handles POST /api/queue/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.runState(w, r, "pause", h.engine.Pause)
}

// Resume handles POST /api/queue/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.runState(w, r, "resume", h.engine.Resume)
}

// Status handles GET /api/queue/status?clinicId=&date=yyyy-MM-dd&all=true.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	all := false
	if raw := strings.TrimSpace(q.Get("all")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "all must be a boolean", http.StatusBadRequest)
			return
		}
		all = parsed
	}
	view, err := h.engine.Status(r.Context(), q.Get("clinicId"), StatusQuery{
		Date: q.Get("date"),
		All:  all,
	})
	if err != nil {
		h.writeError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PatientStatus handles GET /api/patient/queue?appointmentId=.
func (h *Handler) PatientStatus(w http.ResponseWriter, r *http.Request) {
	appointmentID := strings.TrimSpace(r.URL.Query().Get("appointmentId"))
	if appointmentID == "" {
		http.Error(w, "appointmentId is required", http.StatusBadRequest)
		return
	}
	view, err := h.engine.PatientStatus(r.Context(), appointmentID)
	if err != nil {
		h.writeError(w, "patient status", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) runState(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) error) {
	req, ok := decodeClinic(w, r)
	if !ok || !permit(w, r, req.ClinicID) {
		return
	}
	if err := fn(r.Context(), req.ClinicID); err != nil {
		h.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "clinicId": req.ClinicID})
}

// permitAppointment checks the clinic of appointmentID against the staff token.
// A blank id is left for the engine to reject.
func (h *Handler) permitAppointment(w http.ResponseWriter, r *http.Request, op, appointmentID string) bool {
	if strings.TrimSpace(appointmentID) == "" || !httpmiddleware.ClinicRestricted(r.Context()) {
		return true
	}
	clinicID, err := h.engine.AppointmentClinic(r.Context(), appointmentID)
	if err != nil {
		h.writeError(w, op, err)
		return false
	}
	return permit(w, r, clinicID)
}

func permit(w http.ResponseWriter, r *http.Request, clinicID string) bool {
	if httpmiddleware.ClinicPermitted(r.Context(), clinicID) {
		return true
	}
	writeJSON(w, http.StatusForbidden, errorResponse{Error: "clinic not permitted", Code: "forbidden"})
	return false
}

func decodeClinic(w http.ResponseWriter, r *http.Request) (clinicRequest, bool) {
	var req clinicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.ClinicID) == "" {
		http.Error(w, "clinicId is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// StatusCode maps an engine error to its HTTP status.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindEmptyQueue:
		return http.StatusUnprocessableEntity
	case KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("queue: request failed", "operation", op, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: Code(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
