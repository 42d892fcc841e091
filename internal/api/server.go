// Package api provides the HTTP boundary of SmartAuth.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/smartauth/internal/audit"
	"github.com/nerrad567/smartauth/internal/auth"
	"github.com/nerrad567/smartauth/internal/directory"
	"github.com/nerrad567/smartauth/internal/infrastructure/config"
	"github.com/nerrad567/smartauth/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ProfileFetcher looks up citizen records for the login and verify responses.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, citizenID int64) (*directory.Profile, error)
}

// AuthMetrics records authentication outcomes. *influxdb.Client satisfies it.
type AuthMetrics interface {
	RecordAuthEvent(event, outcome string)
}

// HealthChecker is implemented by every component reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	Service       config.ServiceConfig
	Logger        *logging.Logger
	Sessions      *auth.Manager
	Registrations *auth.Coordinator
	Directory     ProfileFetcher           // optional: login info is omitted without it
	Metrics       AuthMetrics              // optional
	Audit         audit.Repository         // optional: attempts are not persisted without it
	Checks        map[string]HealthChecker // reported by /health
	Version       string
}

// Server is the HTTP API server for SmartAuth.
type Server struct {
	cfg           config.APIConfig
	service       config.ServiceConfig
	logger        *logging.Logger
	sessions      *auth.Manager
	registrations *auth.Coordinator
	directory     ProfileFetcher
	metrics       AuthMetrics
	audit         audit.Repository
	checks        map[string]HealthChecker
	version       string
	server        *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Registrations == nil {
		return nil, fmt.Errorf("registration coordinator is required")
	}

	return &Server{
		cfg:           deps.Config,
		service:       deps.Service,
		logger:        deps.Logger,
		sessions:      deps.Sessions,
		registrations: deps.Registrations,
		directory:     deps.Directory,
		metrics:       deps.Metrics,
		audit:         deps.Audit,
		checks:        deps.Checks,
		version:       deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// maxSubjectLength caps what a rejected request can write into the audit trail.
const maxSubjectLength = 64

// record reports an auth outcome to metrics and the audit trail. Audit
// failures are logged and never fail the request.
func (s *Server) record(r *http.Request, event, subject, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAuthEvent(event, outcome)
	}
	if s.audit == nil {
		return
	}

	principal, action, _ := strings.Cut(event, "_")
	if len(subject) > maxSubjectLength {
		subject = subject[:maxSubjectLength]
	}
	requestID, _ := r.Context().Value(ctxKeyRequestID).(string)
	entry := &audit.AuditLog{
		Action:    action,
		Principal: principal,
		Subject:   subject,
		Outcome:   outcome,
		Source:    "api",
		RequestID: requestID,
	}
	if err := s.audit.Create(context.WithoutCancel(r.Context()), entry); err != nil {
		s.logger.Warn("audit write failed", "event", event, "error", err)
	}
}

func idSubject(id int64) string {
	return strconv.FormatInt(id, 10)
}
