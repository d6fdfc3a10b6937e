package queue

import "context"

// AppointmentGate reports whether an appointment is closed out with a
// treatment summary. CallNext consults it for every active entry.
type AppointmentGate interface {
	IsCompletedWithSummary(ctx context.Context, appointmentID string) (bool, error)
}

// AppointmentDirectory resolves the appointment details a new entry needs.
// Unknown appointments return an error wrapping ErrNotFound.
type AppointmentDirectory interface {
	Lookup(ctx context.Context, appointmentID string) (AppointmentInfo, error)
}

// NoticeKind names a patient notification.
type NoticeKind string

const (
	NoticeQueued      NoticeKind = "queued"
	NoticeFastTracked NoticeKind = "fast_tracked"
	NoticeCalled      NoticeKind = "called"
)

// Notice carries what a patient needs to know about their ticket.
type Notice struct {
	Kind          NoticeKind `json:"kind"`
	ClinicID      string     `json:"clinicId"`
	AppointmentID string     `json:"appointmentId,omitempty"`
	PatientID     string     `json:"patientId"`
	QueueNumber   int        `json:"queueNumber"`
	Ahead         int        `json:"ahead"`
	Reason        string     `json:"reason,omitempty"`
	DoctorName    string     `json:"doctorName,omitempty"`
	Room          string     `json:"room,omitempty"`
}

// Notifier delivers patient notifications. Failures are logged by the engine
// and never affect queue state.
type Notifier interface {
	NotifyQueued(ctx context.Context, n Notice) error
	NotifyFastTracked(ctx context.Context, n Notice) error
	NotifyCalled(ctx context.Context, n Notice) error
}

// ChangeListener is told when a clinic's queue changed so live displays can refresh.
type ChangeListener interface {
	ClinicChanged(ctx context.Context, clinicID string) error
}

func noticeFor(kind NoticeKind, e Entry, ahead int) Notice {
	return Notice{
		Kind:          kind,
		ClinicID:      e.ClinicID,
		AppointmentID: e.AppointmentID,
		PatientID:     e.PatientID,
		QueueNumber:   e.QueueNumber,
		Ahead:         ahead,
		Reason:        e.FastTrackReason,
		DoctorName:    e.DoctorName,
		Room:          e.Room,
	}
}
