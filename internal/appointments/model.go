package appointments

import (
	"errors"
	"time"
)

// Status is the booking state of an appointment.
type Status string

const (
	StatusBooked    Status = "BOOKED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// forcedSummary is recorded when staff force completion without a summary.
const forcedSummary = "(forced completion by staff)"

var (
	ErrAppointmentNotFound = errors.New("appointments: appointment not found")
	ErrSummaryRequired     = errors.New("appointments: treatment summary required before completion")
	ErrNotCalled           = errors.New("appointments: patient has not been called from the queue")
	ErrInvalidAppointment  = errors.New("appointments: invalid appointment")
)

// Appointment is a booked visit the queue refers to by ID.
type Appointment struct {
	ID               string     `json:"id"`
	ClinicID         string     `json:"clinicId"`
	PatientID        string     `json:"patientId"`
	PatientName      string     `json:"patientName,omitempty"`
	PatientEmail     string     `json:"patientEmail,omitempty"`
	PatientPhone     string     `json:"patientPhone,omitempty"`
	DoctorName       string     `json:"doctorName,omitempty"`
	Room             string     `json:"room,omitempty"`
	StartsAt         time.Time  `json:"startsAt"`
	Status           Status     `json:"status"`
	TreatmentSummary string     `json:"treatmentSummary,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// CompletedWithSummary reports whether the visit is closed out.
func (a Appointment) CompletedWithSummary() bool {
	return a.Status == StatusCompleted && a.TreatmentSummary != ""
}
