package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// QueueTracker is the part of the queue engine the appointment workflow needs.
type QueueTracker interface {
	PatientStatus(ctx context.Context, appointmentID string) (queue.PatientView, error)
	Complete(ctx context.Context, appointmentID string) (queue.Entry, error)
	ForceComplete(ctx context.Context, appointmentID string) (queue.Entry, error)
}

// Service owns the appointment side of a visit: the directory and completion
// gate the queue consults, and the staff close-out workflow.
type Service struct {
	repo   Repository
	queue  QueueTracker
	logger *logging.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointments: repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithQueue attaches the queue engine once it has been built.
func (s *Service) WithQueue(q QueueTracker) *Service {
	s.queue = q
	return s
}

// WithClock overrides the completion timestamp source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	return s.repo.Get(ctx, strings.TrimSpace(id))
}

// Save creates or replaces an appointment.
func (s *Service) Save(ctx context.Context, appt *Appointment) error {
	if appt == nil {
		return ErrInvalidAppointment
	}
	appt.ID = strings.TrimSpace(appt.ID)
	appt.ClinicID = strings.TrimSpace(appt.ClinicID)
	if appt.ID == "" || appt.ClinicID == "" || strings.TrimSpace(appt.PatientID) == "" {
		return fmt.Errorf("%w: id, clinicId and patientId are required", ErrInvalidAppointment)
	}
	if appt.Status == "" {
		appt.Status = StatusBooked
	}
	return s.repo.Save(ctx, appt)
}

// Lookup implements queue.AppointmentDirectory.
func (s *Service) Lookup(ctx context.Context, appointmentID string) (queue.AppointmentInfo, error) {
	appt, err := s.repo.Get(ctx, appointmentID)
	if errors.Is(err, ErrAppointmentNotFound) {
		return queue.AppointmentInfo{}, fmt.Errorf("appointment %s: %w", appointmentID, queue.ErrNotFound)
	}
	if err != nil {
		return queue.AppointmentInfo{}, err
	}
	return queue.AppointmentInfo{
		ID:         appt.ID,
		ClinicID:   appt.ClinicID,
		PatientID:  appt.PatientID,
		DoctorName: appt.DoctorName,
		Room:       appt.Room,
	}, nil
}

// IsCompletedWithSummary implements queue.AppointmentGate. Unknown
// appointments are reported as not completed.
func (s *Service) IsCompletedWithSummary(ctx context.Context, appointmentID string) (bool, error) {
	done, err := s.repo.CompletedWithSummary(ctx, []string{appointmentID})
	if err != nil {
		return false, err
	}
	return done[appointmentID], nil
}

// AddTreatmentSummary records what was done during the visit. The patient
// must currently be called or in service.
func (s *Service) AddTreatmentSummary(ctx context.Context, appointmentID, summary string) (*Appointment, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("%w: summary is required", ErrInvalidAppointment)
	}
	appt, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireActive(ctx, appointmentID); err != nil {
		return nil, err
	}
	appt.TreatmentSummary = summary
	if err := s.repo.Save(ctx, appt); err != nil {
		return nil, err
	}
	s.logger.Info("appointments: treatment summary added", "appointment_id", appointmentID, "clinic_id", appt.ClinicID)
	return appt, nil
}

// MarkCompleted closes out the appointment. Without force the patient must be
// active in the queue and a summary must exist. The linked queue entry is
// completed on a best-effort basis; a forced close also retires an entry that
// is still waiting so it is never called.
func (s *Service) MarkCompleted(ctx context.Context, appointmentID string, force bool) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !force {
		if err := s.requireActive(ctx, appointmentID); err != nil {
			return nil, err
		}
		if appt.TreatmentSummary == "" {
			return nil, ErrSummaryRequired
		}
	} else if appt.TreatmentSummary == "" {
		appt.TreatmentSummary = forcedSummary
	}

	now := s.now()
	appt.Status = StatusCompleted
	appt.CompletedAt = &now
	if err := s.repo.Save(ctx, appt); err != nil {
		return nil, err
	}
	s.logger.Info("appointments: appointment completed", "appointment_id", appointmentID, "clinic_id", appt.ClinicID, "forced", force)

	if s.queue != nil {
		complete := s.queue.Complete
		if force {
			complete = s.queue.ForceComplete
		}
		if _, err := complete(ctx, appointmentID); err != nil && !errors.Is(err, queue.ErrNotFound) {
			s.logger.Warn("appointments: queue entry not completed", "appointment_id", appointmentID, "error", err)
		}
	}
	return appt, nil
}

func (s *Service) requireActive(ctx context.Context, appointmentID string) error {
	if s.queue == nil {
		return ErrNotCalled
	}
	view, err := s.queue.PatientStatus(ctx, appointmentID)
	if errors.Is(err, queue.ErrNotFound) {
		return ErrNotCalled
	}
	if err != nil {
		return fmt.Errorf("appointments: queue status: %w", err)
	}
	if !view.Entry.Status.Active() {
		return fmt.Errorf("%w: queue entry is %s", ErrNotCalled, view.Entry.Status)
	}
	return nil
}

var (
	_ queue.AppointmentDirectory = (*Service)(nil)
	_ queue.AppointmentGate      = (*Service)(nil)
)
