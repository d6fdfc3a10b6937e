// Package main runs end-to-end checks of the clinic queue against a running API.
//
// Every run uses a fresh clinic ID, so scenarios never see each other's entries
// and nothing needs purging afterwards. Scenarios cover:
//   - Walk-in flow: enqueue, call, serve, summarize, complete, call the next patient
//   - Fast-track precedence over earlier arrivals
//   - Patient status view (people ahead, paused flag)
//   - Live display websocket snapshot after a change
//
// Usage:
//
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go              # runs all
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go fast-track   # runs one
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-frontdesk/internal/appointments"
	httpmiddleware "github.com/wolfman30/clinic-frontdesk/internal/http/middleware"
	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/internal/realtime"
)

const displayWait = 10 * time.Second

var (
	apiBase   string
	jwtSecret string
)

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed   int
	failed   int
	name     string
	clinicID string
	token    string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func staffToken(clinicID string) (string, error) {
	claims := httpmiddleware.StaffClaims{
		ClinicID: clinicID,
		Role:     "front_desk",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "e2e",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// call sends a JSON request and decodes the response into out when the status
// is 2xx. It returns the status code.
func (t *T) call(method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, apiBase+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("X-Clinic-Id", t.clinicID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func (t *T) book(ids ...string) bool {
	for _, id := range ids {
		appt := appointments.Appointment{
			ID:           t.clinicID + "-" + id,
			ClinicID:     t.clinicID,
			PatientID:    "patient-" + id,
			PatientName:  "E2E " + id,
			PatientEmail: id + "@example.com",
			DoctorName:   "Dr. Rivera",
			Room:         "2",
			StartsAt:     time.Now().UTC(),
		}
		code, err := t.call(http.MethodPost, "/api/appointments", appt, nil)
		if err != nil || code != http.StatusOK {
			t.fatalf("book %s: status %d err %v", id, code, err)
			return false
		}
	}
	return true
}

func (t *T) appt(id string) string { return t.clinicID + "-" + id }

func (t *T) enqueue(id string) (queue.EntryView, int) {
	var entry queue.EntryView
	code, err := t.call(http.MethodPost, "/api/queue/enqueue", map[string]string{"appointmentId": t.appt(id)}, &entry)
	if err != nil {
		t.fatalf("enqueue %s: %v", id, err)
	}
	return entry, code
}

func (t *T) callNext() (queue.EntryView, int) {
	var entry queue.EntryView
	code, err := t.call(http.MethodPost, "/api/queue/call-next", map[string]string{"clinicId": t.clinicID}, &entry)
	if err != nil {
		t.fatalf("call-next: %v", err)
	}
	return entry, code
}

func (t *T) runState(op string) int {
	code, err := t.call(http.MethodPost, "/api/queue/"+op, map[string]string{"clinicId": t.clinicID}, nil)
	if err != nil {
		t.fatalf("%s: %v", op, err)
	}
	return code
}

func (t *T) closeOut(id string) bool {
	code, err := t.call(http.MethodPost, "/api/appointments/"+t.appt(id)+"/treatment-summary",
		map[string]string{"summary": "routine check"}, nil)
	if err != nil || code != http.StatusOK {
		t.fatalf("summary %s: status %d err %v", id, code, err)
		return false
	}
	code, err = t.call(http.MethodPost, "/api/appointments/"+t.appt(id)+"/complete", nil, nil)
	if err != nil || code != http.StatusOK {
		t.fatalf("complete %s: status %d err %v", id, code, err)
		return false
	}
	return true
}

func displayURL(clinicID string) (string, string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", "", err
	}
	origin := u.Scheme + "://" + u.Host
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/queue/display/ws"
	u.RawQuery = url.Values{"clinicId": []string{clinicID}}.Encode()
	return u.String(), origin, nil
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func scenarioWalkInFlow(t *T) {
	if !t.book("a", "b") {
		return
	}
	t.check("queue starts", t.runState("start") == http.StatusOK)

	first, code := t.enqueue("a")
	t.check("first arrival enqueued", code == http.StatusOK)
	t.check("first arrival gets #1", first.QueueNumber == 1)

	again, code := t.enqueue("a")
	t.check("re-enqueue is idempotent", code == http.StatusOK && again.ID == first.ID)

	second, _ := t.enqueue("b")
	t.check("second arrival gets #2", second.QueueNumber == 2)

	called, code := t.callNext()
	t.check("call-next calls #1", code == http.StatusOK && called.QueueNumber == 1 && called.Status == queue.StatusCalled)

	_, code = t.callNext()
	t.check("call-next blocked until #1 is closed out", code == http.StatusConflict)

	var serving queue.EntryView
	code, err := t.call(http.MethodPost, "/api/queue/entries/"+called.ID+"/serve", nil, &serving)
	t.check("serve moves #1 to serving", err == nil && code == http.StatusOK && serving.Status == queue.StatusServing)

	if !t.closeOut("a") {
		return
	}
	next, code := t.callNext()
	t.check("call-next calls #2 after close-out", code == http.StatusOK && next.QueueNumber == 2)
}

func scenarioFastTrack(t *T) {
	if !t.book("a", "b", "c") {
		return
	}
	for _, id := range []string{"a", "b", "c"} {
		t.enqueue(id)
	}

	var ft queue.EntryView
	code, err := t.call(http.MethodPost, "/api/queue/fast-track",
		map[string]string{"appointmentId": t.appt("c"), "reason": "elderly patient"}, &ft)
	t.check("fast-track accepted", err == nil && code == http.StatusOK && ft.FastTracked)

	called, code := t.callNext()
	t.check("fast-tracked #3 is called first", code == http.StatusOK && called.QueueNumber == 3)
}

func scenarioPatientView(t *T) {
	if !t.book("a", "b") {
		return
	}
	t.runState("start")
	t.enqueue("a")
	t.enqueue("b")
	t.check("queue pauses", t.runState("pause") == http.StatusOK)

	var view queue.PatientView
	code, err := t.call(http.MethodGet, "/api/patient/queue?appointmentId="+url.QueryEscape(t.appt("b")), nil, &view)
	t.check("patient view served", err == nil && code == http.StatusOK)
	t.check("one patient ahead", view.Ahead == 1)
	t.check("paused flag visible", view.QueuePaused)

	t.check("queue resumes", t.runState("resume") == http.StatusOK)
}

func scenarioDisplay(t *T) {
	if !t.book("a") {
		return
	}
	wsURL, origin, err := displayURL(t.clinicID)
	if err != nil {
		t.fatalf("display url: %v", err)
		return
	}
	conn, err := websocket.Dial(wsURL, "", origin)
	if err != nil {
		t.fatalf("dial display: %v", err)
		return
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(displayWait))

	var u realtime.Update
	err = websocket.JSON.Receive(conn, &u)
	t.check("initial snapshot received", err == nil && u.Type == "snapshot" && u.Status != nil)

	t.enqueue("a")
	for {
		if err := websocket.JSON.Receive(conn, &u); err != nil {
			t.fatalf("waiting for update: %v", err)
			return
		}
		if u.Type == "snapshot" && u.Status != nil && u.Status.WaitingCount == 1 {
			break
		}
	}
	t.check("display refreshed after enqueue", true)
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	jwtSecret = os.Getenv("ADMIN_JWT_SECRET")
	if apiBase == "" || jwtSecret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and ADMIN_JWT_SECRET required")
		os.Exit(1)
	}

	scenarios := []scenario{
		{"walk-in-flow", scenarioWalkInFlow},
		{"fast-track", scenarioFastTrack},
		{"patient-view", scenarioPatientView},
		{"display", scenarioDisplay},
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)
	runID := time.Now().UnixNano()

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		clinicID := fmt.Sprintf("e2e-%d-%s", runID, s.Name)
		token, err := staffToken(clinicID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: sign token: %v\n", err)
			os.Exit(1)
		}
		t := &T{name: s.Name, clinicID: clinicID, token: token}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "✅"
		if t.failed > 0 {
			status = "❌"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\n❌ SOME TESTS FAILED")
		os.Exit(1)
	}
	fmt.Println("\n✅ ALL TESTS PASSED")
}
