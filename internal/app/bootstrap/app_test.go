package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-frontdesk/internal/appointments"
	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/notify"
	"github.com/wolfman30/clinic-frontdesk/internal/queue"
)

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		UseMemoryStore:     true,
		QueueTimezone:      "UTC",
		QueueMaxFastTracks: 3,
		EmailProvider:      "stub",
	}
}

func TestNewWiresMemoryApp(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, Options{Config: memoryConfig(), Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, time.UTC, app.Location)
	assert.Nil(t, app.Pool)
	assert.Nil(t, app.DB)
	assert.Nil(t, app.Redis)
	assert.Nil(t, app.Archive)
	assert.Empty(t, app.HealthChecks())

	require.NoError(t, app.Appointments.Save(ctx, &appointments.Appointment{
		ID: "appt-1", ClinicID: "clinic-1", PatientID: "patient-1", PatientEmail: "pat@example.com",
	}))
	entry, err := app.Engine.Enqueue(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.QueueNumber)

	called, err := app.Engine.CallNext(ctx, "clinic-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCalled, called.Status)

	_, err = app.Appointments.AddTreatmentSummary(ctx, "appt-1", "checkup")
	require.NoError(t, err)
	_, err = app.Appointments.MarkCompleted(ctx, "appt-1", false)
	require.NoError(t, err)

	view, err := app.Engine.PatientStatus(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, view.Entry.Status)
}

func TestNewWithRedisAddsBrokerAndHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()

	app, err := New(context.Background(), Options{Config: cfg, Registerer: prometheus.NewRegistry(), VerifyRedis: true})
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Redis)
	checks := app.HealthChecks()
	require.Contains(t, checks, "redis")
	assert.NoError(t, checks["redis"](context.Background()))
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := memoryConfig()
	cfg.QueueTimezone = "Mars/Olympus_Mons"
	_, err := New(context.Background(), Options{Config: cfg, Registerer: prometheus.NewRegistry()})
	require.Error(t, err)

	_, err = New(context.Background(), Options{})
	require.Error(t, err)
}

func TestNewRequiresAWSForNotificationQueue(t *testing.T) {
	cfg := memoryConfig()
	cfg.NotificationQueueURL = "https://sqs.us-east-1.amazonaws.com/123/queue-notices"
	_, err := New(context.Background(), Options{Config: cfg, Registerer: prometheus.NewRegistry()})
	require.Error(t, err)
}

func TestBuildRedisClient(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true))

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, nil, true)
	require.NotNil(t, client)
	require.NoError(t, client.Close())

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, nil, true))
}

func TestLoadLocationDefaultsToUTC(t *testing.T) {
	loc, err := LoadLocation(&appconfig.Config{})
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestUsesMemory(t *testing.T) {
	assert.True(t, UsesMemory(nil))
	assert.True(t, UsesMemory(&appconfig.Config{}))
	assert.True(t, UsesMemory(&appconfig.Config{DatabaseURL: "postgres://x", UseMemoryStore: true}))
	assert.False(t, UsesMemory(&appconfig.Config{DatabaseURL: "postgres://x"}))
}

func TestBuildEmailSender(t *testing.T) {
	awsCfg := &aws.Config{Region: "us-east-1"}

	_, ok := BuildEmailSender(&appconfig.Config{EmailProvider: "stub"}, nil, nil).(*notify.StubEmailSender)
	assert.True(t, ok)

	_, ok = BuildEmailSender(&appconfig.Config{EmailProvider: "sendgrid"}, nil, nil).(*notify.StubEmailSender)
	assert.True(t, ok, "sendgrid without a key falls back to the stub")

	_, ok = BuildEmailSender(&appconfig.Config{EmailProvider: "sendgrid", SendGridAPIKey: "SG.key"}, nil, nil).(*notify.SendGridSender)
	assert.True(t, ok)

	_, ok = BuildEmailSender(&appconfig.Config{EmailProvider: "ses", SESFromEmail: "desk@example.com"}, nil, nil).(*notify.StubEmailSender)
	assert.True(t, ok, "ses without aws config falls back to the stub")

	_, ok = BuildEmailSender(&appconfig.Config{EmailProvider: "ses", SESFromEmail: "desk@example.com"}, awsCfg, nil).(*notify.SESSender)
	assert.True(t, ok)
}

func TestBuildNotifier(t *testing.T) {
	awsCfg := &aws.Config{Region: "us-east-1"}

	n, err := BuildNotifier(&appconfig.Config{}, nil, nil, nil)
	require.NoError(t, err)
	_, ok := n.(*notify.Service)
	assert.True(t, ok)

	cfg := &appconfig.Config{NotificationQueueURL: "https://sqs.us-east-1.amazonaws.com/123/queue-notices"}
	_, err = BuildNotifier(cfg, nil, nil, nil)
	require.Error(t, err)

	n, err = BuildNotifier(cfg, awsCfg, nil, nil)
	require.NoError(t, err)
	_, ok = n.(*notify.QueuePublisher)
	assert.True(t, ok)
}

func TestNeedsAWS(t *testing.T) {
	assert.False(t, NeedsAWS(nil))
	assert.False(t, NeedsAWS(&appconfig.Config{EmailProvider: "sendgrid"}))
	assert.True(t, NeedsAWS(&appconfig.Config{EmailProvider: "ses"}))
	assert.True(t, NeedsAWS(&appconfig.Config{ArchiveBucket: "queue-history"}))
	assert.True(t, NeedsAWS(&appconfig.Config{NotificationLogTable: "queue-notifications"}))
}

func TestAppointmentContacts(t *testing.T) {
	ctx := context.Background()
	svc := appointments.NewService(appointments.NewInMemoryRepository(), nil)
	require.NoError(t, svc.Save(ctx, &appointments.Appointment{
		ID: "appt-1", ClinicID: "clinic-1", PatientID: "p-1",
		PatientName: "Ana", PatientEmail: "ana@example.com", PatientPhone: "+15550001111",
	}))

	contacts := NewAppointmentContacts(svc)
	c, err := contacts.Contact(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, notify.Contact{Name: "Ana", Email: "ana@example.com", Phone: "+15550001111"}, c)

	_, err = contacts.Contact(ctx, "missing")
	require.ErrorIs(t, err, appointments.ErrAppointmentNotFound)
}
