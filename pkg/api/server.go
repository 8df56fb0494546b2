// Package api serves the ingestion and query surface.
//
// POST /v1/events and /v1/events/batch accept governance events from
// producers; GET endpoints read them back, always scoped to the
// authenticated organization. Every error response uses the uniform
// envelope written by the helpers in apierror.go.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aigrc/pipeline/pkg/auth"
	"github.com/aigrc/pipeline/pkg/events"
	"github.com/aigrc/pipeline/pkg/ratelimit"
	"github.com/aigrc/pipeline/pkg/store"
)

// Request body limits and the batch element cap.
const (
	DefaultMaxBatch = 1000

	syncBodyLimit  = 1 << 20  // 1MB, single events are small
	batchBodyLimit = 32 << 20 // 32MB, a full batch of large events
)

// ServiceName identifies this service in health responses.
const ServiceName = "aigrc-event-pipeline"

// Metrics receives ingest outcomes. The observability provider
// satisfies it; a nil Metrics skips instrumentation.
type Metrics interface {
	EventAccepted(ctx context.Context, e *events.Event)
	EventDuplicate(ctx context.Context, e *events.Event)
	EventRejected(ctx context.Context, code events.Code)
}

// Config wires the server's collaborators. Store and Auth are
// required; everything else has a working default.
type Config struct {
	Store     store.EventStore
	Validator *events.Validator
	Auth      *auth.Authenticator
	Limiter   ratelimit.Limiter
	Logger    *slog.Logger
	Metrics   Metrics
	Service   string
	MaxBatch  int

	// OnAccepted runs after each first-time accepted write. Ingest
	// rules and the archive sink hang off this hook; it must not
	// block.
	OnAccepted func(ctx context.Context, e *events.Event)
}

// Server handles the HTTP surface.
type Server struct {
	store      store.EventStore
	validator  *events.Validator
	auth       *auth.Authenticator
	limiter    ratelimit.Limiter
	logger     *slog.Logger
	metrics    Metrics
	service    string
	maxBatch   int
	onAccepted func(ctx context.Context, e *events.Event)
}

// NewServer validates the config and returns a server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("api: config requires a store")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("api: config requires an authenticator")
	}
	if cfg.Validator == nil {
		cfg.Validator = events.NewValidator()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Service == "" {
		cfg.Service = ServiceName
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	return &Server{
		store:      cfg.Store,
		validator:  cfg.Validator,
		auth:       cfg.Auth,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		service:    cfg.Service,
		maxBatch:   cfg.MaxBatch,
		onAccepted: cfg.OnAccepted,
	}, nil
}

// Handler builds the routed handler with request-ID, auth, and rate
// limit middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/events/batch", s.handleBatch)
	mux.HandleFunc("/v1/events/", s.handleEventByID)
	mux.HandleFunc("/v1/assets", s.handleAssets)
	return auth.RequestID(s.guard(mux))
}

// isPublicPath lists endpoints served without authentication.
func isPublicPath(path string) bool {
	return path == "/v1/health"
}

// guard authenticates every non-public request and applies the
// per-org rate limit before dispatch.
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := s.auth.Authenticate(r)
		if err != nil {
			switch err {
			case auth.ErrMissingCredentials:
				WriteUnauthorized(w, "missing Authorization header")
			case auth.ErrMalformedHeader:
				WriteUnauthorized(w, "Authorization header must be 'Bearer <token>'")
			default:
				WriteUnauthorized(w, "credentials not recognized")
			}
			return
		}

		if s.limiter != nil {
			d, err := s.limiter.Allow(r.Context(), principal.OrgID)
			if err != nil {
				// A broken limiter must not take ingestion down with it.
				s.logger.Error("rate limiter unavailable", "org_id", principal.OrgID, "error", err)
			} else if !d.Allowed {
				WriteTooManyRequests(w, int(d.RetryAfter/time.Second))
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}
