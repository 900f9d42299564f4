// Package trace logs and measures every HTTP request.
package trace

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tracker/internal/log"
	"tracker/internal/observability"
)

// Middleware handles request tracing and logging
type Middleware struct {
	logger    *log.Logger
	extractIP func(*http.Request) string
	events    *log.StructuredLogger
}

// NewMiddleware creates a new trace middleware. extractIP may be nil.
func NewMiddleware(logger *log.Logger, extractIP func(*http.Request) string) *Middleware {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	if extractIP == nil {
		extractIP = func(r *http.Request) string { return r.RemoteAddr }
	}
	return &Middleware{
		logger:    logger,
		extractIP: extractIP,
		events:    log.NewStructuredLogger(logger),
	}
}

// Middleware returns HTTP middleware for request tracing. Place it after
// chi's RequestID middleware so the request ID reaches every log line.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := r.Context()
		logger, ok := ctx.Value(log.LoggerContextKey).(*log.Logger)
		if !ok {
			logger = m.logger
		}
		if requestID := chimw.GetReqID(ctx); requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
			logger = logger.With(log.FieldRequestID, requestID)
		}
		ctx = log.NewContext(ctx, logger)
		r = r.WithContext(ctx)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.events.LogHTTPEnd(ctx, r, status, time.Since(start).Milliseconds(), m.extractIP(r))
		observability.ObserveHTTPRequest(routePattern(r), r.Method, status, start)
	})
}

// routePattern returns the matched chi pattern so metrics are not labelled
// with record IDs.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
