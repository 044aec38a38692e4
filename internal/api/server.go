package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/shipyard/internal/api/handler"
	mw "github.com/edvin/shipyard/internal/api/middleware"
	"github.com/edvin/shipyard/internal/config"
	"github.com/edvin/shipyard/internal/core"
)

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       *core.Services
	pool           *pgxpool.Pool
	temporalClient temporalclient.Client
	cfg            *config.Config
	auditLogger    *mw.AuditLogger
	logHub         *core.BuildLogHub
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, temporalClient temporalclient.Client, cfg *config.Config) *Server {
	policy, _ := core.ParseAdmissionPolicy(cfg.AdmissionPolicy)
	services := core.NewServices(pool, temporalClient, core.Options{
		AdmissionPolicy:       policy,
		ReplicationLagCeiling: cfg.ReplicationLagCeiling,
		ReplicationFreshness:  cfg.ReplicationFreshness,
	})
	auditLogger := mw.NewAuditLogger(pool, logger)

	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		pool:           pool,
		temporalClient: temporalClient,
		cfg:            cfg,
		auditLogger:    auditLogger,
		logHub:         core.NewBuildLogHub(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.pool))
		r.Use(s.auditLogger.Middleware)

		// Any valid key may read; mutations require the resource's write
		// scope (or the *:* wildcard).

		// Projects and their teams
		project := handler.NewProject(s.services.Project)
		team := handler.NewTeam(s.services.Team)
		r.Get("/projects", project.List)
		r.Get("/projects/{id}", project.Get)
		r.Get("/projects/{id}/team", team.List)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireScope("projects", "write"))
			r.Post("/projects", project.Create)
			r.Delete("/projects/{id}", project.Delete)
			r.Post("/projects/{id}/team", team.Add)
			r.Put("/projects/{id}/team/{userID}", team.SetRole)
			r.Delete("/projects/{id}/team/{userID}", team.Remove)
			r.Post("/projects/{id}/transfer-ownership", team.TransferOwnership)
		})

		// Deployments and build log streaming
		deployment := handler.NewDeployment(s.services.Deployment)
		logs := handler.NewLogs(s.services.Deployment, s.logHub)
		r.Get("/projects/{id}/deployments", deployment.ListByProject)
		r.Get("/deployments/{id}", deployment.Get)
		r.Get("/deployments/{id}/logs", logs.Stream)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireScope("deployments", "write"))
			r.Post("/projects/{id}/deployments", deployment.Create)
			r.Post("/deployments/{id}/cancel", deployment.Cancel)
			r.Post("/deployments/{id}/rollback", deployment.Rollback)
			r.Post("/deployments/{id}/redeploy", deployment.Redeploy)
			r.Delete("/deployments/{id}", deployment.Delete)
		})

		// Regions, failover, replication pairs
		region := handler.NewRegion(s.services.Region)
		failover := handler.NewFailover(s.services.Failover)
		replication := handler.NewReplication(s.services.Replication)
		r.Get("/regions", region.List)
		r.Get("/regions/{id}", region.Get)
		r.Get("/replications", replication.List)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireScope("regions", "write"))
			r.Post("/regions", region.Create)
			r.Post("/regions/{id}/health-check", region.HealthCheck)
			r.Post("/regions/{id}/maintenance", region.Maintenance)
			r.Delete("/regions/{id}", region.Delete)
			r.Post("/failover", failover.Trigger)
		})

		// Usage
		usage := handler.NewUsage(s.services.Usage)
		r.Get("/usage/{userID}", usage.Get)

		// API keys
		apiKey := handler.NewAPIKey(s.services.APIKey)
		r.Get("/api-keys", apiKey.List)
		r.Get("/api-keys/{id}", apiKey.Get)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireScope("api-keys", "write"))
			r.Post("/api-keys", apiKey.Create)
			r.Delete("/api-keys/{id}", apiKey.Revoke)
		})

		// Audit logs
		audit := handler.NewAudit(s.pool)
		r.Get("/audit-logs", audit.List)
	})

	// Builder callbacks: the builder fleet authenticates with its own API
	// key like any other caller, scoped to builds:write.
	s.router.Route("/internal/builder", func(r chi.Router) {
		r.Use(mw.Auth(s.pool))
		r.Use(mw.RequireScope("builds", "write"))

		callback := handler.NewBuilderCallback(s.services.Deployment, s.logHub)
		r.Post("/callback", callback.Result)
		r.Post("/logs", callback.Logs)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

// Close flushes the async audit writer.
func (s *Server) Close() {
	s.auditLogger.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
