package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"chats/internal/auth"
	"chats/internal/chat"
	"chats/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

var sensitiveHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
}

// probePaths never need a caller, so WithAuth skips the user lookup for them.
var probePaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

// CallerFromContext returns the authenticated user, or nil for anonymous
// requests.
func CallerFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

// WithAuth resolves the caller from a bearer token or the auth cookie. A
// request without a usable token continues anonymously. Probe routes are
// served without resolving a token.
func (h *Handlers) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := probePaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token := auth.TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := h.tokens.Verify(token)
		if err != nil {
			h.logger.Debug("token_rejected", zap.String("path", r.URL.Path), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		user, err := h.service.Identify(r.Context(), userID)
		if err != nil {
			if errors.Is(err, chat.ErrUnauthenticated) {
				h.logger.Debug("token_user_missing", zap.String("user_id", userID))
				next.ServeHTTP(w, r)
				return
			}
			h.fail(w, r, chat.OpUnknown, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser rejects anonymous callers before next runs.
func requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if CallerFromContext(r.Context()) == nil {
			writeJSONError(w, http.StatusUnauthorized, chat.ErrUnauthenticated.Error())
			return
		}
		next(w, r)
	}
}

func (h *Handlers) WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.CORSOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", h.cfg.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// instrument records request count and latency under the route template.
func (h *Handlers) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := newLoggingResponseWriter(w)
		next.ServeHTTP(lrw, r)

		h.metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		h.metrics.Requests.WithLabelValues(route, r.Method, strconv.Itoa(lrw.statusCode)).Inc()
	})
}

func (h *Handlers) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := newLoggingResponseWriter(w)

		next.ServeHTTP(lrw, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", lrw.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		}
		if ce := h.logger.Check(zap.DebugLevel, "request"); ce != nil {
			ce.Write(append(fields, zap.String("headers", safeHeaders(r)))...)
			return
		}
		h.logger.Info("request", fields...)
	})
}

// safeHeaders renders request headers for logging with credentials redacted.
func safeHeaders(r *http.Request) string {
	parts := make([]string, 0, len(r.Header))
	for k, v := range r.Header {
		if len(v) == 0 {
			continue
		}
		value := v[0]
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok && value != "" {
			value = "<redacted>"
		}
		parts = append(parts, k+"="+value)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	if !lrw.wroteHeader {
		lrw.statusCode = code
		lrw.wroteHeader = true
	}
	lrw.ResponseWriter.WriteHeader(code)
}
