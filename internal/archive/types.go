package archive

import "time"

const snapshotVersion = "1.0"

// DaySnapshot is one clinic's queue for one closed day, archived to S3.
type DaySnapshot struct {
	Version     string          `json:"version"`
	ClinicID    string          `json:"clinic_id"`
	Date        string          `json:"date"` // YYYY-MM-DD in the queue timezone
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	ArchivedAt  time.Time       `json:"archived_at"`
	Totals      Totals          `json:"totals"`
	Entries     []ArchivedEntry `json:"entries"`
}

// Totals summarises the day.
type Totals struct {
	Entries            int `json:"entries"`
	Completed          int `json:"completed"`
	NotCompleted       int `json:"not_completed"`
	FastTracked        int `json:"fast_tracked"`
	AverageWaitSeconds int `json:"average_wait_seconds"`
}

// ArchivedEntry is a queue entry with the patient identifier hashed.
type ArchivedEntry struct {
	QueueNumber     int        `json:"queue_number"`
	AppointmentID   string     `json:"appointment_id,omitempty"`
	PatientHash     string     `json:"patient_hash,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CalledAt        *time.Time `json:"called_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	FastTracked     bool       `json:"fast_tracked"`
	FastTrackReason string     `json:"fast_track_reason,omitempty"`
	WaitSeconds     int        `json:"wait_seconds,omitempty"`
	DoctorName      string     `json:"doctor_name,omitempty"`
	Room            string     `json:"room,omitempty"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	ClinicID   string `json:"clinic_id"`
	Date       string `json:"date"`
	S3Key      string `json:"s3_key"`
	EntryCount int    `json:"entry_count"`
	Completed  int    `json:"completed"`
	ArchivedAt string `json:"archived_at"`
}
