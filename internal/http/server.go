package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracker/internal/log"
	"tracker/internal/middleware/ratelimit"
	"tracker/internal/middleware/security"
	"tracker/internal/middleware/trace"
	"tracker/internal/services"
)

// Dependencies are the services the API is built on. Logger, RateLimit and
// TrustedProxies are optional.
type Dependencies struct {
	Records        *services.RecordService
	Stats          *services.Aggregator
	Dashboards     *services.DashboardService
	Logger         *log.Logger
	RateLimit      *ratelimit.Config
	TrustedProxies []string
}

type Server struct {
	http.Server
	records    *services.RecordService
	stats      *services.Aggregator
	dashboards *services.DashboardService
	limiter    *ratelimit.Limiter
	clientIP   *security.ClientIP

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	limits := ratelimit.DefaultConfig()
	if deps.RateLimit != nil {
		limits = *deps.RateLimit
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		records:    deps.Records,
		stats:      deps.Stats,
		dashboards: deps.Dashboards,
		limiter:    ratelimit.NewLimiter(limits),
		clientIP:   security.NewClientIP(),
	}
	for _, cidr := range deps.TrustedProxies {
		if err := s.clientIP.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}
	s.Handler = s.routes(logger.WithComponent(log.ComponentHTTP))
	return s
}

func (s *Server) routes(logger *log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(log.Middleware(logger))
	r.Use(trace.NewMiddleware(logger, s.clientIP.Extract).Middleware)
	r.Use(chimw.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(requireUser)

		api.Get("/activities", s.handleListActivities)
		api.Get("/activities/{id}", s.handleGetActivity)
		api.Get("/expenses", s.handleListExpenses)
		api.Get("/expenses/{id}", s.handleGetExpense)

		api.Route("/stats", func(stats chi.Router) {
			stats.Get("/daily", s.handleDailyTotals)
			stats.Get("/activity-types", s.handleActivityTypes)
			stats.Get("/expense-categories", s.handleExpenseCategories)
			stats.Get("/expense-periods", s.handleExpensePeriods)
		})
		api.Get("/dashboard", s.handleDashboard)

		// Writes are rate limited per user.
		api.Group(func(writes chi.Router) {
			writes.Use(s.limiter.Middleware(s.rateLimitKey, func(w http.ResponseWriter, r *http.Request) {
				TooManyRequestsError().Write(w)
			}))

			writes.Post("/activities", s.handleCreateActivity)
			writes.Post("/activities/with-expense", s.handleCreateActivityWithExpense)
			writes.Put("/activities/{id}", s.handleUpdateActivity)
			writes.Delete("/activities/{id}", s.handleDeleteActivity)

			writes.Post("/expenses", s.handleCreateExpense)
			writes.Put("/expenses/{id}", s.handleUpdateExpense)
			writes.Delete("/expenses/{id}", s.handleDeleteExpense)

			writes.Delete("/users/me", s.handleDeleteUser)
		})
	})

	return r
}

// rateLimitKey identifies the caller for rate limiting: the user when known,
// the client address otherwise.
func (s *Server) rateLimitKey(r *http.Request) string {
	if userID := userFromContext(r.Context()); userID != "" {
		return "user:" + userID
	}
	return "ip:" + s.clientIP.Extract(r)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports ready once the record store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.records.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		ServiceUnavailableError().Write(w)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
