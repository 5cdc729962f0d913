// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sambitos23/walkie-lazy/internal/log"
	"github.com/sambitos23/walkie-lazy/internal/metrics"
	"github.com/sambitos23/walkie-lazy/internal/ratelimit"
)

type ctxKey int

const accountingKey ctxKey = iota

// accounting returns the rate-limit result stored by scopeLimit, if any.
func accounting(r *http.Request) (ratelimit.Result, bool) {
	res, ok := r.Context().Value(accountingKey).(ratelimit.Result)
	return res, ok
}

// callerAddr is the rate-limit key: the remote host without port.
// chimw.RealIP has already rewritten RemoteAddr for trusted headers.
func callerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// scopeLimit applies the fixed-window limiter for one operation class,
// mirrors the accounting into X-RateLimit headers and rejects with 429
// plus retryAfter seconds when the window is exhausted.
func (s *Server) scopeLimit(scope ratelimit.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := s.limiter.Allow(callerAddr(r), scope)
			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
			}
			if !res.Allowed {
				retryAfter := int(res.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				s.logger.Warn().
					Str(log.FieldRemoteAddr, callerAddr(r)).
					Str(log.FieldScope, string(scope)).
					Msg("rate limit exceeded")
				writeJSON(w, http.StatusTooManyRequests, rejectBody(res, retryAfter))
				return
			}
			ctx := context.WithValue(r.Context(), accountingKey, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rejectBody(res ratelimit.Result, retryAfter int) map[string]any {
	return map[string]any{
		"error":      "rate_limit_exceeded",
		"allowed":    false,
		"limit":      res.Limit,
		"remaining":  0,
		"reset":      res.Reset.Unix(),
		"retryAfter": retryAfter,
	}
}

// globalLimitHandler answers the outer per-IP httprate limiter.
func globalLimitHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"too many requests"}`))
}

// requestLogger emits one structured line per request and records the
// latency histogram.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), elapsed)
		s.logger.Info().
			Str("method", r.Method).
			Str(log.FieldRoute, route).
			Int(log.FieldStatus, ww.Status()).
			Str(log.FieldRemoteAddr, callerAddr(r)).
			Int64(log.FieldDurationMS, elapsed.Milliseconds()).
			Msg("request")
	})
}
