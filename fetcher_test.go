package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type recordLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordLogger) Log(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recordLogger) Warn(format string, args ...any)  { r.Log(format, args...) }
func (r *recordLogger) Error(format string, args ...any) { r.Log(format, args...) }

func (r *recordLogger) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// newChallengeServer serves canned Cloudflare pages. /iuam-once serves a
// javascript challenge on the first hit only.
func newChallengeServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	var onceHits atomic.Int32

	mux := http.NewServeMux()
	serve := func(status int, server, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Header().Set("Server", server)
			w.Header().Set("Content-Type", "text/html; charset=UTF-8")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/clean", serve(200, "nginx", "<html><head><title>Welcome &amp; hello</title></head></html>"))
	mux.HandleFunc("/blocked", serve(403, "cloudflare", firewallBody))
	mux.HandleFunc("/captcha", serve(403, "cloudflare", captchaV2Body))
	mux.HandleFunc("/iuam", serve(503, "cloudflare", jsV1Body))
	mux.HandleFunc("/jsv2", serve(503, "cloudflare", jsV2Body))
	mux.HandleFunc("/iuam-once", func(w http.ResponseWriter, r *http.Request) {
		if onceHits.Add(1) == 1 {
			serve(503, "cloudflare", jsV1Body)(w, r)
			return
		}
		serve(200, "cloudflare", "<html><title>ok</title></html>")(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestFetcher(t *testing.T, logger Logger) *Fetcher {
	t.Helper()
	client, err := NewClient(nil, "")
	require.NoError(t, err)
	return NewFetcher(client, logger, "", FetcherOptions{})
}

func TestFetcherCheck(t *testing.T) {
	srv, _ := newChallengeServer(t)

	tests := []struct {
		path       string
		wantKind   ChallengeKind
		wantStatus int
	}{
		{"/clean", KindNone, 200},
		{"/blocked", KindFirewallBlocked1020, 403},
		{"/captcha", KindCaptchaChallengeV2, 403},
		{"/jsv2", KindJsChallengeV2, 503},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			logger := &recordLogger{}
			f := newTestFetcher(t, logger)

			res, err := f.Check(context.Background(), srv.URL+tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, 1, res.Attempts, "terminal and clean results are not retried")

			if tt.wantKind != KindNone {
				assert.Equal(t, 1, logger.count(string(tt.wantKind)), "signal must be logged once")
			}
		})
	}
}

func TestFetcherCheck_Title(t *testing.T) {
	srv, _ := newChallengeServer(t)
	f := newTestFetcher(t, nil)

	res, err := f.Check(context.Background(), srv.URL+"/clean")
	require.NoError(t, err)
	assert.Equal(t, "Welcome & hello", res.Title)
}

func TestFetcherCheck_DetectedChallengeRotatesSession(t *testing.T) {
	srv, hits := newChallengeServer(t)
	logger := &recordLogger{}
	f := newTestFetcher(t, logger)

	res, err := f.Check(context.Background(), srv.URL+"/iuam")
	require.NoError(t, err)
	assert.Equal(t, KindJsChallengeV1, res.Kind)
	assert.Equal(t, maxChallengeRetries+1, res.Attempts)
	assert.Equal(t, int32(maxChallengeRetries+1), hits.Load())
	assert.Equal(t, maxChallengeRetries, logger.count("rotating session"))
	assert.ErrorIs(t, res.Err(), ErrDetectedChallenge)
}

func TestFetcherCheck_ChallengeClearsAfterRetry(t *testing.T) {
	srv, _ := newChallengeServer(t)
	f := newTestFetcher(t, nil)

	res, err := f.Check(context.Background(), srv.URL+"/iuam-once")
	require.NoError(t, err)
	assert.Equal(t, KindNone, res.Kind)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, 2, res.Attempts)
}

func TestFetcherCheck_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := newTestFetcher(t, nil)
	res, err := f.Check(context.Background(), url+"/gone")
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestFetcher_RateLimiterHonorsContext(t *testing.T) {
	srv, _ := newChallengeServer(t)
	client, err := NewClient(nil, "")
	require.NoError(t, err)

	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	f := NewFetcher(client, nil, "", FetcherOptions{Limiter: limiter})

	_, err = f.Fetch(context.Background(), srv.URL+"/clean")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, srv.URL+"/clean")
	assert.Error(t, err)
}
