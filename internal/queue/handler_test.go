package queue

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(rig *testRig) http.Handler {
	h := NewHandler(rig.engine, nil)
	r := chi.NewRouter()
	r.Post("/api/queue/enqueue", h.Enqueue)
	r.Post("/api/queue/fast-track", h.FastTrack)
	r.Post("/api/queue/call-next", h.CallNext)
	r.Post("/api/queue/entries/{entryID}/serve", h.BeginService)
	r.Post("/api/queue/start", h.Start)
	r.Post("/api/queue/pause", h.Pause)
	r.Post("/api/queue/resume", h.Resume)
	r.Get("/api/queue/status", h.Status)
	r.Get("/api/patient/queue", h.PatientStatus)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerEnqueueAndCallNext(t *testing.T) {
	rig := newTestRig(t)
	rig.dir.add("appt-1", "clinic-1")
	router := newTestRouter(rig)

	rec := do(t, router, http.MethodPost, "/api/queue/enqueue", `{"appointmentId":"appt-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entry EntryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, 1, entry.QueueNumber)
	assert.Equal(t, StatusQueued, entry.Status)

	rec = do(t, router, http.MethodPost, "/api/queue/call-next", `{"clinicId":"clinic-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, StatusCalled, entry.Status)

	rec = do(t, router, http.MethodPost, "/api/queue/entries/"+entry.ID+"/serve", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, StatusServing, entry.Status)
}

func TestHandlerErrorMapping(t *testing.T) {
	rig := newTestRig(t)
	rig.dir.add("appt-1", "clinic-1")
	rig.dir.add("appt-2", "clinic-1")
	router := newTestRouter(rig)

	rec := do(t, router, http.MethodPost, "/api/queue/call-next", `{"clinicId":"clinic-1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "empty_queue", body.Code)

	rec = do(t, router, http.MethodPost, "/api/queue/enqueue", `{"appointmentId":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, router, http.MethodPost, "/api/queue/enqueue", `{"appointmentId":"appt-1"}`)
	do(t, router, http.MethodPost, "/api/queue/enqueue", `{"appointmentId":"appt-2"}`)
	do(t, router, http.MethodPost, "/api/queue/call-next", `{"clinicId":"clinic-1"}`)

	rec = do(t, router, http.MethodPost, "/api/queue/call-next", `{"clinicId":"clinic-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "previous_not_completed", body.Code)

	rec = do(t, router, http.MethodPost, "/api/queue/call-next", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/queue/enqueue", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerInternalErrorsAreHidden(t *testing.T) {
	rig := newTestRig(t)
	rig.dir.add("appt-1", "clinic-1")
	rig.dir.add("appt-2", "clinic-1")
	router := newTestRouter(rig)
	do(t, router, http.MethodPost, "/api/queue/enqueue", `{"appointmentId":"appt-1"}`)
	do(t, router, http.MethodPost, "/api/queue/enqueue", `{"appointmentId":"appt-2"}`)
	do(t, router, http.MethodPost, "/api/queue/call-next", `{"clinicId":"clinic-1"}`)

	rig.gate.err = assert.AnError
	rec := do(t, router, http.MethodPost, "/api/queue/call-next", `{"clinicId":"clinic-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestHandlerRunStateAndStatus(t *testing.T) {
	rig := newTestRig(t)
	rig.dir.add("appt-1", "clinic-1")
	router := newTestRouter(rig)

	rec := do(t, router, http.MethodPost, "/api/queue/start", `{"clinicId":"clinic-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/queue/pause", `{"clinicId":"clinic-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	do(t, router, http.MethodPost, "/api/queue/enqueue", `{"appointmentId":"appt-1"}`)

	rec = do(t, router, http.MethodGet, "/api/queue/status?clinicId=clinic-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Running)
	assert.True(t, view.Paused)
	assert.Equal(t, 1, view.WaitingCount)
	require.Len(t, view.Entries, 1)

	rec = do(t, router, http.MethodPost, "/api/queue/resume", `{"clinicId":"clinic-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/queue/status?clinicId=clinic-1&all=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/queue/status?clinicId=clinic-1&date=2026-13-45", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/queue/status?clinicId=clinic-1&all=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.AllHistory)
}

func TestHandlerFastTrackAndPatientStatus(t *testing.T) {
	rig := newTestRig(t)
	rig.dir.add("appt-1", "clinic-1")
	rig.dir.add("appt-2", "clinic-1")
	router := newTestRouter(rig)
	do(t, router, http.MethodPost, "/api/queue/enqueue", `{"appointmentId":"appt-1"}`)
	do(t, router, http.MethodPost, "/api/queue/enqueue", `{"appointmentId":"appt-2"}`)

	rec := do(t, router, http.MethodPost, "/api/queue/fast-track", `{"appointmentId":"appt-2","reason":"elderly"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entry EntryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.True(t, entry.FastTracked)
	assert.Equal(t, "elderly", entry.FastTrackReason)

	rec = do(t, router, http.MethodGet, "/api/patient/queue?appointmentId=appt-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view PatientView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 1, view.Ahead)

	rec = do(t, router, http.MethodGet, "/api/patient/queue", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
