package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/clinic-frontdesk/internal/appointments"
	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/notify"
	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// NeedsAWS reports whether any configured component talks to AWS.
func NeedsAWS(cfg *appconfig.Config) bool {
	if cfg == nil {
		return false
	}
	return strings.TrimSpace(cfg.NotificationQueueURL) != "" ||
		strings.TrimSpace(cfg.NotificationLogTable) != "" ||
		strings.TrimSpace(cfg.ArchiveBucket) != "" ||
		cfg.EmailProvider == "ses"
}

type appointmentGetter interface {
	Get(ctx context.Context, id string) (*appointments.Appointment, error)
}

// AppointmentContacts resolves notification recipients from appointments.
type AppointmentContacts struct {
	source appointmentGetter
}

func NewAppointmentContacts(svc appointmentGetter) *AppointmentContacts {
	return &AppointmentContacts{source: svc}
}

func (c *AppointmentContacts) Contact(ctx context.Context, appointmentID string) (notify.Contact, error) {
	appt, err := c.source.Get(ctx, appointmentID)
	if err != nil {
		return notify.Contact{}, err
	}
	return notify.Contact{
		Name:  appt.PatientName,
		Email: appt.PatientEmail,
		Phone: appt.PatientPhone,
	}, nil
}

// BuildEmailSender selects the email provider. Misconfigured providers fall
// back to the stub sender so notices still reach the logs.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger)
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			logger.Info("email provider: sendgrid")
			return sender
		}
		logger.Warn("SENDGRID_API_KEY missing, using stub email sender")
	case "ses":
		if awsCfg != nil && cfg.SESFromEmail != "" {
			logger.Info("email provider: ses")
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
			}, logger)
		}
		logger.Warn("SES not configured, using stub email sender")
	}
	return notify.NewStubEmailSender(logger)
}

// BuildNotificationService builds the in-process delivery path. Attempts are
// recorded in DynamoDB when a log table is configured.
func BuildNotificationService(cfg *appconfig.Config, awsCfg *aws.Config, contacts notify.ContactDirectory, logger *logging.Logger) *notify.Service {
	if logger == nil {
		logger = logging.Default()
	}
	svc := notify.NewService(
		BuildEmailSender(cfg, awsCfg, logger),
		notify.NewStubSMSSender(logger),
		contacts,
		logger,
	)
	if cfg != nil && awsCfg != nil && strings.TrimSpace(cfg.NotificationLogTable) != "" {
		svc.WithDeliveryLog(notify.NewDeliveryLog(dynamodb.NewFromConfig(*awsCfg), cfg.NotificationLogTable, logger))
	}
	return svc
}

// BuildNotifier returns the queue notifier. With NOTIFICATION_QUEUE_URL set,
// notices are published to SQS for the notification worker; otherwise they are
// delivered in-process.
func BuildNotifier(cfg *appconfig.Config, awsCfg *aws.Config, contacts notify.ContactDirectory, logger *logging.Logger) (queue.Notifier, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg != nil && strings.TrimSpace(cfg.NotificationQueueURL) != "" {
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: notification queue configured without aws config")
		}
		logger.Info("queue notifications published to sqs", "queue_url", cfg.NotificationQueueURL)
		jobs := notify.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.NotificationQueueURL)
		return notify.NewQueuePublisher(jobs, logger), nil
	}
	return BuildNotificationService(cfg, awsCfg, contacts, logger), nil
}
