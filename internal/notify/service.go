package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Contact is how a patient can be reached.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// ContactDirectory resolves the patient contact for an appointment.
type ContactDirectory interface {
	Contact(ctx context.Context, appointmentID string) (Contact, error)
}

// DeliveryRecorder keeps an audit trail of delivery attempts.
type DeliveryRecorder interface {
	Record(ctx context.Context, rec DeliveryRecord) error
}

// Service delivers queue notices to patients by email and, when a phone
// number is on file, by SMS.
type Service struct {
	email    EmailSender
	sms      SMSSender
	contacts ContactDirectory
	log      DeliveryRecorder
	logger   *logging.Logger
}

func NewService(email EmailSender, sms SMSSender, contacts ContactDirectory, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:    email,
		sms:      sms,
		contacts: contacts,
		logger:   logger,
	}
}

// WithDeliveryLog records every attempt to rec.
func (s *Service) WithDeliveryLog(rec DeliveryRecorder) *Service {
	s.log = rec
	return s
}

func (s *Service) NotifyQueued(ctx context.Context, n queue.Notice) error {
	return s.Deliver(ctx, n)
}

func (s *Service) NotifyFastTracked(ctx context.Context, n queue.Notice) error {
	return s.Deliver(ctx, n)
}

func (s *Service) NotifyCalled(ctx context.Context, n queue.Notice) error {
	return s.Deliver(ctx, n)
}

// Deliver renders n and sends it on every channel the patient has.
func (s *Service) Deliver(ctx context.Context, n queue.Notice) error {
	if s.contacts == nil || n.AppointmentID == "" {
		s.logger.Debug("notify: no contact source, skipping", "kind", n.Kind, "queue_number", n.QueueNumber)
		return nil
	}
	contact, err := s.contacts.Contact(ctx, n.AppointmentID)
	if err != nil {
		return fmt.Errorf("notify: contact for appointment %s: %w", n.AppointmentID, err)
	}
	msg, err := render(n, contact)
	if err != nil {
		return err
	}

	var errs []error
	if s.email != nil && strings.TrimSpace(contact.Email) != "" {
		err := s.email.Send(ctx, EmailMessage{
			To:      contact.Email,
			ToName:  contact.Name,
			Subject: msg.Subject,
			Body:    msg.Body,
		})
		s.record(ctx, n, ChannelEmail, contact.Email, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if s.sms != nil && strings.TrimSpace(contact.Phone) != "" {
		err := s.sms.SendSMS(ctx, contact.Phone, msg.SMS)
		s.record(ctx, n, ChannelSMS, contact.Phone, err)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (s *Service) record(ctx context.Context, n queue.Notice, channel Channel, recipient string, sendErr error) {
	if s.log == nil {
		return
	}
	rec := newDeliveryRecord(n, channel, recipient, sendErr)
	if err := s.log.Record(ctx, rec); err != nil {
		s.logger.Warn("notify: delivery log write failed", "error", err, "kind", n.Kind)
	}
}

var _ queue.Notifier = (*Service)(nil)
