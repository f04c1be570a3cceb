package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

func (s *CloudClipApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects clients over their request budget with 429. Limiter
// failures let the request through.
func (s *CloudClipApp) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next(w, r)
			return
		}

		ok, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			s.log.Printf("rate limit %s: %v", clientIP(r), err)
		} else if !ok {
			errResp := NewTooManyRequestsError()
			w.Header().Set("Retry-After", "1")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next(w, r)
	}
}

// clientIP is the peer address without its port. Behind a proxy,
// ProxyHeaders has already replaced RemoteAddr with the forwarded address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
