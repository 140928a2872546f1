package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gitpulse/gitpulse/pkg/access"
	"github.com/gitpulse/gitpulse/pkg/audit"
	"github.com/gitpulse/gitpulse/pkg/auth"
	"github.com/gitpulse/gitpulse/pkg/clients"
	"github.com/gitpulse/gitpulse/pkg/contextkeys"
	"github.com/gitpulse/gitpulse/pkg/middleware"
	"github.com/gitpulse/gitpulse/pkg/observability"
)

// Server wires the HTTP handlers to the access control engine and the
// client service.
type Server struct {
	router *mux.Router

	resolver *access.Resolver
	engine   *access.Engine
	store    *access.Store
	clients  *clients.PostgresService
	users    *auth.Store

	auditor     audit.Logger
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	logger      *observability.Logger
}

// Options carries the optional collaborators of the server. Any nil
// field falls back to a no-op implementation.
type Options struct {
	Auditor audit.Logger
	Metrics *observability.Metrics
	// OTelMetrics mirrors the access counters to OTLP when OTel is
	// enabled.
	OTelMetrics *observability.OTelMetrics
	Logger      *observability.Logger
}

// NewServer creates the API server over the shared database handle.
func NewServer(db *sql.DB, opts Options) *Server {
	if opts.Auditor == nil {
		opts.Auditor = audit.NopLogger()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{
		router:      mux.NewRouter(),
		resolver:    access.NewResolver(db),
		engine:      access.NewEngine(db),
		store:       access.NewStore(db),
		clients:     clients.NewPostgresService(db),
		users:       auth.NewStore(db),
		auditor:     opts.Auditor,
		metrics:     opts.Metrics,
		otelMetrics: opts.OTelMetrics,
		logger:      opts.Logger,
	}

	if s.metrics != nil || s.otelMetrics != nil {
		s.engine.SetObserver(func(operation, status string, fanOut int64) {
			if s.metrics != nil {
				s.metrics.ObserveMutation(operation, status, fanOut)
			}
			if s.otelMetrics != nil {
				s.otelMetrics.RecordMutation(context.Background(), operation, status, fanOut)
			}
		})
	}

	return s
}

// Router returns the server's router so callers can attach middleware
// around it.
func (s *Server) Router() *mux.Router {
	return s.router
}

// RegisterRoutes registers all API routes behind the auth middleware.
// Any extra middleware runs after authentication, so it can key on the
// resolved user.
func (s *Server) RegisterRoutes(authMiddleware *middleware.AuthMiddleware, extra ...mux.MiddlewareFunc) {
	s.router.Use(observability.RecoveryMiddleware(s.logger))
	s.router.Use(s.requestContextMiddleware)
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Handler)
	for _, m := range extra {
		api.Use(m)
	}

	api.HandleFunc("/clients", s.CreateClient).Methods("POST")
	api.HandleFunc("/clients", s.ListClients).Methods("GET")
	api.HandleFunc("/clients/{id}", s.GetClient).Methods("GET")
	api.HandleFunc("/clients/{id}/members", s.ListMembers).Methods("GET")
	api.HandleFunc("/clients/{id}/inviteMember", s.InviteMember).Methods("POST")
	api.HandleFunc("/clients/{id}/removeMember", s.RemoveMember).Methods("POST")
	api.HandleFunc("/clients/{id}/shareAccess", s.ShareAccess).Methods("POST")
	api.HandleFunc("/clients/{id}/revokeAccess", s.RevokeAccess).Methods("POST")
	api.HandleFunc("/clients/{id}/delegations", s.ListDelegations).Methods("GET")
	api.HandleFunc("/clients/{id}/repos", s.ListRepos).Methods("GET")

	api.HandleFunc("/repos/{id}", s.GetRepo).Methods("GET")
	api.HandleFunc("/repos/{id}/enable", s.SetRepoEnabled).Methods("POST")

	api.HandleFunc("/me", s.GetMe).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireSuperUser)
	admin.HandleFunc("/users/{id}/superUser", s.SetSuperUser).Methods("POST")
	admin.HandleFunc("/audit", s.SearchAudit).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestContextMiddleware tags every request with an ID and makes the
// audit logger reachable from handler context.
func (s *Server) requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		ctx = audit.WithLogger(ctx, s.auditor)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		s.logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start).String(),
		}).Debug("request handled")
	})
}

// actor returns the authenticated user, or nil after writing a 401.
// The auth middleware normally guarantees presence; this guards direct
// handler invocation.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) *auth.User {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil || authCtx.User == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil
	}
	return authCtx.User
}

// checkAccess runs an access check and records its outcome metric.
func (s *Server) checkAccess(r *http.Request, userID, clientID int64, required access.Role) (*access.Grant, error) {
	start := time.Now()
	grant, err := s.resolver.CheckAccess(r.Context(), userID, clientID, required)
	s.observeCheck(r.Context(), required, err, time.Since(start))
	return grant, err
}

func (s *Server) observeCheck(ctx context.Context, required access.Role, err error, elapsed time.Duration) {
	if s.metrics == nil && s.otelMetrics == nil {
		return
	}
	outcome := "granted"
	if err != nil {
		outcome = "error"
		if access.IsDenied(err) {
			outcome = "denied"
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveAccessCheck(required.String(), outcome, elapsed)
	}
	if s.otelMetrics != nil {
		s.otelMetrics.RecordAccessCheck(ctx, required.String(), outcome, elapsed)
	}
}
