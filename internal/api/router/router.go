package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-frontdesk/internal/appointments"
	httpmiddleware "github.com/wolfman30/clinic-frontdesk/internal/http/middleware"
	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/internal/realtime"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	QueueHandler        *queue.Handler
	AppointmentsHandler *appointments.Handler
	DisplayHub          *realtime.Hub
	HealthChecks        map[string]HealthCheck
	MetricsHandler      http.Handler
	AdminAuthSecret     string
	CORSAllowedOrigins  []string

	// PatientRateLimiter throttles the unauthenticated patient and display routes.
	PatientRateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (health checks, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Patient-facing and display routes
	r.Group(func(patient chi.Router) {
		if cfg.PatientRateLimiter != nil {
			patient.Use(httpmiddleware.RateLimit(cfg.PatientRateLimiter))
		}
		if cfg.QueueHandler != nil {
			patient.Get("/api/patient/queue", cfg.QueueHandler.PatientStatus)
		}
		if cfg.DisplayHub != nil {
			patient.Get("/api/queue/display/ws", cfg.DisplayHub.HandleDisplay)
		}
	})

	// Staff routes, behind a JWT when a secret is configured
	r.Group(func(staff chi.Router) {
		if cfg.AdminAuthSecret != "" {
			staff.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			staff.Use(httpmiddleware.RequireClinic)
		}
		if cfg.QueueHandler != nil {
			staff.Route("/api/queue", func(q chi.Router) {
				q.Post("/enqueue", cfg.QueueHandler.Enqueue)
				q.Post("/fast-track", cfg.QueueHandler.FastTrack)
				q.Post("/call-next", cfg.QueueHandler.CallNext)
				q.Post("/entries/{entryID}/serve", cfg.QueueHandler.BeginService)
				q.Post("/start", cfg.QueueHandler.Start)
				q.Post("/pause", cfg.QueueHandler.Pause)
				q.Post("/resume", cfg.QueueHandler.Resume)
				q.Get("/status", cfg.QueueHandler.Status)
			})
		}
		if cfg.AppointmentsHandler != nil {
			staff.Route("/api/appointments", func(a chi.Router) {
				a.Post("/", cfg.AppointmentsHandler.Save)
				a.Get("/{appointmentID}", cfg.AppointmentsHandler.Get)
				a.Post("/{appointmentID}/treatment-summary", cfg.AppointmentsHandler.TreatmentSummary)
				a.Post("/{appointmentID}/complete", cfg.AppointmentsHandler.Complete)
			})
		}
	})

	return r
}
