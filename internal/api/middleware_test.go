package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-cloudclip/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &CloudClipApp{
		log: testutil.TestLogger(t),
	}

	app.log.SetOutput(buf)

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &CloudClipApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func Test_rateLimit(t *testing.T) {
	tcases := []struct {
		name     string
		limiter  *stubLimiter
		wantCode int
	}{
		{name: "allowed", limiter: &stubLimiter{allow: true}, wantCode: http.StatusOK},
		{name: "rejected", limiter: &stubLimiter{allow: false}, wantCode: http.StatusTooManyRequests},
		{name: "limiter failure lets request through", limiter: &stubLimiter{err: errors.New("redis down")}, wantCode: http.StatusOK},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := &CloudClipApp{log: testutil.TestLogger(t), limiter: tc.limiter}
			next := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

			req := httptest.NewRequest(http.MethodPost, "/api/text", nil)
			req.RemoteAddr = "192.0.2.7:51234"
			rr := httptest.NewRecorder()
			app.rateLimit(next)(rr, req)

			assert.Equal(t, tc.wantCode, rr.Code)
			assert.Equal(t, []string{"192.0.2.7"}, tc.limiter.keys, "expected limiter to be keyed by client IP")
			if tc.wantCode == http.StatusTooManyRequests {
				assert.Equal(t, "1", rr.Header().Get("Retry-After"))
			}
		})
	}
}

func Test_clientIP(t *testing.T) {
	tcases := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.7:51234", "192.0.2.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"203.0.113.9", "203.0.113.9"},
	}

	for _, tc := range tcases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		assert.Equal(t, tc.want, clientIP(req))
	}
}
