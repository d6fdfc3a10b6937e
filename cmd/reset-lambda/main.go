package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/clinic-frontdesk/cmd/mainconfig"
	"github.com/wolfman30/clinic-frontdesk/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// resetter runs one daily reset plus its hooks.
type resetter interface {
	RunOnce(ctx context.Context) (queue.ResetResult, error)
}

type resetResponse struct {
	Boundary  time.Time `json:"boundary"`
	ClinicIDs []string  `json:"clinicIds"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg, bootstrap.NeedsAWS(cfg))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	app, err := bootstrap.New(ctx, bootstrap.Options{
		Config:      cfg,
		AWS:         awsCfg,
		Logger:      logger,
		VerifyRedis: true,
	})
	if err != nil {
		logger.Error("failed to initialize queue", "error", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (resetResponse, error) {
		defer app.Dispatcher.Wait()
		return handle(ctx, app.Scheduler, logger, evt)
	})
}

func handle(ctx context.Context, r resetter, logger *logging.Logger, evt events.CloudWatchEvent) (resetResponse, error) {
	logger.Info("daily reset triggered", "event_id", evt.ID, "source", evt.Source, "scheduled_at", evt.Time)
	res, err := r.RunOnce(ctx)
	if err != nil {
		return resetResponse{}, fmt.Errorf("reset lambda: %w", err)
	}
	return resetResponse{Boundary: res.Boundary, ClinicIDs: res.ClinicIDs}, nil
}
