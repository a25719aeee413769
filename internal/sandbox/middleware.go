package sandbox

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/pet-ride/internal/observability"
)

// trace is the per-request record behind the access log. The outer
// middleware creates it; auth fills in the caller once the token is read.
type trace struct {
	id   string
	user string
}

type traceKey struct{}

type userKey struct{}

func traceFrom(ctx context.Context) *trace {
	t, _ := ctx.Value(traceKey{}).(*trace)
	return t
}

func userFrom(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}

// quietRoutes are polled by infrastructure and kept out of the access log.
var quietRoutes = map[string]bool{"/healthz": true, "/metrics": true}

func (s *Server) registerMiddleware() {
	s.mux.Use(s.traceMiddleware, s.recoverMiddleware)
}

// traceMiddleware tags the request with an id, then records the outcome per
// route template along with who called and which order it touched.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		t := &trace{id: r.Header.Get("X-Request-ID")}
		if t.id == "" {
			t.id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", t.id)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), traceKey{}, t)))

		route := routeTemplate(r)
		code := strconv.Itoa(sw.status)
		elapsed := time.Since(start)
		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(elapsed.Seconds())
		if quietRoutes[route] {
			return
		}

		args := []any{
			"request_id", t.id,
			"method", r.Method,
			"route", route,
			"status", sw.status,
			"duration_ms", elapsed.Milliseconds(),
		}
		if t.user != "" {
			args = append(args, "user_id", t.user)
		}
		if id := mux.Vars(r)["id"]; id != "" && strings.HasPrefix(route, "/orders/") {
			args = append(args, "order_id", id)
		}
		s.logger.Log(r.Context(), accessLevel(sw.status), "http_request", args...)
	})
}

// accessLevel: server errors at error, chat upgrades at info, the rest at
// debug.
func accessLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status == http.StatusSwitchingProtocols:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				args := []any{"error", rec, "path", r.URL.Path, "remote", remoteHost(r)}
				if t := traceFrom(r.Context()); t != nil {
					args = append(args, "request_id", t.id)
				}
				s.logger.Error("panic recovered", args...)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware takes the bearer token as the caller's user id.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if t := traceFrom(r.Context()); t != nil {
			t.user = tok
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, tok)))
	})
}

// statusWriter remembers the response code. It can be hijacked so the chat
// endpoint upgrades through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func routeTemplate(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tmpl, err := cur.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
