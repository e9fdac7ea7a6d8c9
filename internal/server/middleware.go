package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
)

// statusRecorder captures the status code and body size for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// LoggingMiddleware logs every request with method, path, status, size and
// latency.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// RecoveryMiddleware converts handler panics into a 500 response.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						slog.Any("error", err),
						slog.String("stack", string(debug.Stack())),
					)
					writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSPolicy configures cross-origin access for the API.
type CORSPolicy struct {
	// Origins lists allowed origins; "*" allows any.
	Origins []string
	// Methods and Headers are echoed on allowed requests.
	Methods []string
	Headers []string
	// MaxAge is how long browsers may cache the preflight answer.
	MaxAge time.Duration
}

// DefaultCORSPolicy allows any origin with the methods the API serves.
func DefaultCORSPolicy() CORSPolicy {
	return CORSPolicy{
		Origins: []string{"*"},
		Methods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		Headers: []string{"Content-Type", "Authorization"},
		MaxAge:  24 * time.Hour,
	}
}

func (p CORSPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	for _, candidate := range p.Origins {
		if candidate == "*" || candidate == origin {
			return true
		}
	}
	return false
}

// CORSMiddleware applies the policy and answers preflight requests. Header
// values are assembled once, not per request.
func CORSMiddleware(policy CORSPolicy) func(http.Handler) http.Handler {
	methods := strings.Join(policy.Methods, ", ")
	headers := strings.Join(policy.Headers, ", ")
	maxAge := strconv.Itoa(int(policy.MaxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); policy.allows(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				h.Set("Access-Control-Max-Age", maxAge)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ChainMiddleware composes middleware so the first listed runs outermost.
func ChainMiddleware(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
