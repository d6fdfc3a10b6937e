package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/clinic-frontdesk/cmd/mainconfig"
	"github.com/wolfman30/clinic-frontdesk/internal/app/bootstrap"
	"github.com/wolfman30/clinic-frontdesk/internal/appointments"
	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/notify"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if strings.TrimSpace(cfg.NotificationQueueURL) == "" || bootstrap.UsesMemory(cfg) {
		logger.Error("notification worker requires NOTIFICATION_QUEUE_URL and DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	db, err := bootstrap.OpenSQLDB(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	contacts := bootstrap.NewAppointmentContacts(
		appointments.NewService(bootstrap.BuildAppointmentsRepository(db), logger),
	)
	deliverer := bootstrap.BuildNotificationService(cfg, &awsCfg, contacts, logger)
	jobs := notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL)

	worker := notify.NewWorker(jobs, deliverer, logger, notify.WithWorkerCount(cfg.NotificationWorkers))
	worker.Start(ctx)
	logger.Info("notification worker started", "queue_url", cfg.NotificationQueueURL, "workers", cfg.NotificationWorkers)

	<-ctx.Done()
	logger.Info("notification worker shutting down")
	worker.Wait()
}
