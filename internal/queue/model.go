package queue

import "time"

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusCalled    Status = "CALLED"
	StatusServing   Status = "SERVING"
	StatusCompleted Status = "COMPLETED"
)

// Active reports whether the entry occupies the clinic's single active slot.
func (s Status) Active() bool {
	return s == StatusCalled || s == StatusServing
}

// Entry is one patient's ticket in a clinic queue.
type Entry struct {
	ID              string
	ClinicID        string
	AppointmentID   string
	PatientID       string
	QueueNumber     int
	Status          Status
	CreatedAt       time.Time
	CalledAt        *time.Time
	ServingAt       *time.Time
	CompletedAt     *time.Time
	FastTracked     bool
	FastTrackedAt   *time.Time
	FastTrackReason string
	FastTrackCount  int
	DoctorName      string
	Room            string
}

// ClinicState is the persisted run state of one clinic's queue.
type ClinicState struct {
	ClinicID    string
	Running     bool
	Paused      bool
	LastResetAt *time.Time
	UpdatedAt   time.Time
}

// Range bounds entry reads by creation time. Zero values leave that side open;
// To is exclusive.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// AppointmentInfo is what the queue needs to know about an external appointment.
type AppointmentInfo struct {
	ID         string
	ClinicID   string
	PatientID  string
	DoctorName string
	Room       string
}

// EntryView is the JSON projection of an entry.
type EntryView struct {
	ID              string     `json:"id"`
	ClinicID        string     `json:"clinicId"`
	AppointmentID   string     `json:"appointmentId,omitempty"`
	PatientID       string     `json:"patientId,omitempty"`
	QueueNumber     int        `json:"queueNumber"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	CalledAt        *time.Time `json:"calledAt,omitempty"`
	ServingAt       *time.Time `json:"servingAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	FastTracked     bool       `json:"fastTracked"`
	FastTrackedAt   *time.Time `json:"fastTrackedAt,omitempty"`
	FastTrackReason string     `json:"fastTrackReason,omitempty"`
	DoctorName      string     `json:"doctorName,omitempty"`
	Room            string     `json:"room,omitempty"`
}

// StatusView is a clinic's queue as shown to staff and display screens.
type StatusView struct {
	ClinicID            string      `json:"clinicId"`
	Date                string      `json:"date,omitempty"`
	AllHistory          bool        `json:"allHistory,omitempty"`
	Running             bool        `json:"running"`
	Paused              bool        `json:"paused"`
	CurrentCalledNumber *int        `json:"currentCalledNumber,omitempty"`
	WaitingCount        int         `json:"waitingCount"`
	Entries             []EntryView `json:"entries"`
}

// PatientView is one patient's position in their clinic queue.
type PatientView struct {
	Entry               EntryView `json:"entry"`
	QueueStarted        bool      `json:"queueStarted"`
	QueuePaused         bool      `json:"queuePaused"`
	CurrentCalledNumber *int      `json:"currentCalledNumber,omitempty"`
	Ahead               int       `json:"ahead"`
}

// View projects the entry for API responses.
func (e Entry) View() EntryView {
	return EntryView{
		ID:              e.ID,
		ClinicID:        e.ClinicID,
		AppointmentID:   e.AppointmentID,
		PatientID:       e.PatientID,
		QueueNumber:     e.QueueNumber,
		Status:          e.Status,
		CreatedAt:       e.CreatedAt,
		CalledAt:        e.CalledAt,
		ServingAt:       e.ServingAt,
		CompletedAt:     e.CompletedAt,
		FastTracked:     e.FastTracked,
		FastTrackedAt:   e.FastTrackedAt,
		FastTrackReason: e.FastTrackReason,
		DoctorName:      e.DoctorName,
		Room:            e.Room,
	}
}
