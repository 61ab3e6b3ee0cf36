package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/metrics"
)

// personHeader carries the authenticated person id, set by the session
// gateway in front of this service.
const personHeader = "X-Person-Id"

const webhookSecretHeader = "X-Webhook-Secret"

func requestLogger(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				elapsed := time.Since(start)
				route := ""
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					route = rctx.RoutePattern()
				}
				if route == "" {
					route = "unmatched"
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				m.ObserveHTTP(r.Method, route, status, elapsed)
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("route", route),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", elapsed),
					zap.String("request_id", requestID(r)),
					zap.String("remote_addr", r.RemoteAddr))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func requestID(r *http.Request) string { return middleware.GetReqID(r.Context()) }

func personID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(personHeader))
}
