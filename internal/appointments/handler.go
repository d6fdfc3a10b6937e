package appointments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/clinic-frontdesk/internal/http/middleware"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Handler serves the staff appointment routes.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type summaryRequest struct {
	Summary string `json:"summary"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Save handles POST /api/appointments.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	var appt Appointment
	if err := json.NewDecoder(r.Body).Decode(&appt); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !permit(w, r, appt.ClinicID) {
		return
	}
	if err := h.service.Save(r.Context(), &appt); err != nil {
		h.writeError(w, "save", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Get handles GET /api/appointments/{appointmentID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	if !permit(w, r, appt.ClinicID) {
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// TreatmentSummary handles POST /api/appointments/{appointmentID}/treatment-summary.
func (h *Handler) TreatmentSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !h.permitAppointment(w, r, "treatment summary") {
		return
	}
	appt, err := h.service.AddTreatmentSummary(r.Context(), chi.URLParam(r, "appointmentID"), req.Summary)
	if err != nil {
		h.writeError(w, "treatment summary", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Complete handles POST /api/appointments/{appointmentID}/complete?force=true.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "force must be a boolean", http.StatusBadRequest)
			return
		}
		force = parsed
	}
	if !h.permitAppointment(w, r, "complete") {
		return
	}
	appt, err := h.service.MarkCompleted(r.Context(), chi.URLParam(r, "appointmentID"), force)
	if err != nil {
		h.writeError(w, "complete", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// permitAppointment checks the clinic of the routed appointment against the
// staff token before any mutation.
func (h *Handler) permitAppointment(w http.ResponseWriter, r *http.Request, op string) bool {
	if !httpmiddleware.ClinicRestricted(r.Context()) {
		return true
	}
	appt, err := h.service.Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, op, err)
		return false
	}
	return permit(w, r, appt.ClinicID)
}

func permit(w http.ResponseWriter, r *http.Request, clinicID string) bool {
	if httpmiddleware.ClinicPermitted(r.Context(), clinicID) {
		return true
	}
	writeJSON(w, http.StatusForbidden, errorResponse{Error: "clinic not permitted", Code: "forbidden"})
	return false
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, ErrNotCalled):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "not_called"})
	case errors.Is(err, ErrSummaryRequired):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "summary_required"})
	case errors.Is(err, ErrInvalidAppointment):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_input"})
	default:
		h.logger.Error("appointments: request failed", "operation", op, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
