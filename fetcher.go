package main

import (
	"context"
	"fmt"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"golang.org/x/time/rate"
)

const (
	// maxChallengeRetries limits session rotations while a solvable challenge persists
	maxChallengeRetries = 3

	// maxProxyRetries limits proxy rotation retries for connection errors
	maxProxyRetries = 5
)

// CheckResult is the final classification of one URL.
type CheckResult struct {
	Result
	URL        string
	StatusCode int
	Title      string
	Attempts   int
}

// Fetcher retrieves pages with a browser-fingerprinted client and classifies
// every response it receives.
type Fetcher struct {
	client       tls_client.HttpClient
	classifier   *Classifier
	logger       Logger
	proxy        string
	proxyManager *ProxyManager
	profile      *BrowserProfile
	limiter      *rate.Limiter
}

// FetcherOptions configures optional Fetcher collaborators.
type FetcherOptions struct {
	Profile      *BrowserProfile
	Signatures   *Signatures
	ProxyManager *ProxyManager
	Limiter      *rate.Limiter
}

// NewFetcher creates a fetcher around an existing client. proxy is the URL
// the client was built with, "" for direct connections.
func NewFetcher(client tls_client.HttpClient, logger Logger, proxy string, opts FetcherOptions) *Fetcher {
	if logger == nil {
		logger = nopLogger{}
	}
	if opts.Profile == nil {
		opts.Profile = DefaultProfile
	}

	f := &Fetcher{
		client:       client,
		logger:       logger,
		proxy:        proxy,
		proxyManager: opts.ProxyManager,
		profile:      opts.Profile,
		limiter:      opts.Limiter,
	}
	f.classifier = NewClassifierWithSignatures(f.signal, opts.Signatures)
	return f
}

// signal is the classifier's collaborator: it surfaces each detection once.
func (f *Fetcher) signal(kind ChallengeKind, message string) {
	switch kind.Category() {
	case CategoryHardBlock:
		f.logger.Warn("BLOCKED (%s): %s", kind, message)
	case CategoryUnsupported:
		f.logger.Warn("UNSUPPORTED (%s): %s", kind, message)
	default:
		f.logger.Log("CHALLENGE (%s): %s", kind, message)
	}
}

// RotateProxy switches to the next proxy without recreating the client,
// preserving cookies. Use this for connection errors.
func (f *Fetcher) RotateProxy() bool {
	if f.proxyManager == nil || f.proxyManager.Count() == 0 {
		return false
	}

	newProxy := f.proxyManager.Rotate()
	if err := f.client.SetProxy(newProxy); err != nil {
		f.logger.Log("Failed to set new proxy: %v", err)
		return false
	}

	f.proxy = newProxy
	f.logger.Log("Rotated proxy: %s", f.proxyManager.CurrentDisplay())
	return true
}

// RotateSession recreates the HTTP client, dropping cookies, on the next
// proxy if any are configured.
func (f *Fetcher) RotateSession() error {
	newProxy := f.proxy
	if f.proxyManager != nil && f.proxyManager.Count() > 0 {
		newProxy = f.proxyManager.Rotate()
	}

	newClient, err := NewClientWithProfile(nil, newProxy, f.profile.TLSProfile)
	if err != nil {
		return NewFatalError(fmt.Errorf("failed to create client: %w", err))
	}

	f.client = newClient
	f.proxy = newProxy
	if f.proxyManager != nil {
		f.logger.Log("Rotated session: %s", f.proxyManager.CurrentDisplay())
	}
	return nil
}

// Check fetches pageURL and classifies the response. Solvable challenges are
// retried on a fresh session; blocks and unsupported challenges are returned
// at once. A challenge is reported in the result, not as an error.
func (f *Fetcher) Check(ctx context.Context, pageURL string) (*CheckResult, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.fetchWithProxyRetry(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		res := f.classifier.Classify(resp)
		out := &CheckResult{
			Result:     res,
			URL:        pageURL,
			StatusCode: resp.StatusCode,
			Attempts:   attempt,
		}
		if body, ok := resp.Text(); ok {
			out.Title = pageTitle(body)
		}

		if res.Kind.Category() != CategoryDetected || attempt > maxChallengeRetries {
			return out, nil
		}

		f.logger.Log("Challenge persists, rotating session (retry %d/%d)", attempt, maxChallengeRetries)
		if err := f.RotateSession(); err != nil {
			return out, err
		}
	}
}

func (f *Fetcher) fetchWithProxyRetry(ctx context.Context, pageURL string) (*Response, error) {
	var lastErr error
	for range maxProxyRetries {
		resp, err := f.Fetch(ctx, pageURL)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryableError(err) || !f.RotateProxy() {
			return nil, err
		}
	}
	return nil, fmt.Errorf("request failed after %d proxy rotations: %w", maxProxyRetries, lastErr)
}

// doRequest executes an HTTP request and logs the request URL and response status code.
func (f *Fetcher) doRequest(req *http.Request) (*http.Response, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Log("%s %s -> error: %v", req.Method, req.URL.String(), err)
		return nil, err
	}
	f.logger.Log("%s %s -> %d", req.Method, req.URL.String(), resp.StatusCode)
	return resp, nil
}

// Fetch makes a browser-like navigation request and returns the decoded response.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header = http.Header{
		"upgrade-insecure-requests": {"1"},
		"user-agent":                {f.profile.UserAgent},
		"accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"},
		"sec-fetch-site":            {"none"},
		"sec-fetch-mode":            {"navigate"},
		"sec-fetch-user":            {"?1"},
		"sec-fetch-dest":            {"document"},
		"sec-ch-ua":                 {f.profile.SecChUa},
		"sec-ch-ua-mobile":          {f.profile.Mobile},
		"sec-ch-ua-platform":        {f.profile.Platform},
		"accept-encoding":           {"gzip, deflate, br, zstd"},
		"accept-language":           {"en-US,en;q=0.9"},
		http.HeaderOrderKey: {
			"upgrade-insecure-requests",
			"user-agent",
			"accept",
			"sec-fetch-site",
			"sec-fetch-mode",
			"sec-fetch-user",
			"sec-fetch-dest",
			"sec-ch-ua",
			"sec-ch-ua-mobile",
			"sec-ch-ua-platform",
			"accept-encoding",
			"accept-language",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}

	resp, err := f.doRequest(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return NewResponse(resp)
}
