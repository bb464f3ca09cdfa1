package main

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// ChallengeKind identifies which Cloudflare challenge a response carries.
type ChallengeKind string

const (
	KindNone                ChallengeKind = ""
	KindFirewallBlocked1020 ChallengeKind = "FirewallBlocked1020"
	KindCaptchaChallengeV2  ChallengeKind = "CaptchaChallengeV2"
	KindJsChallengeV2       ChallengeKind = "JsChallengeV2"
	KindCaptchaChallengeV1  ChallengeKind = "CaptchaChallengeV1"
	KindJsChallengeV1       ChallengeKind = "JsChallengeV1"
)

func (k ChallengeKind) String() string {
	if k == KindNone {
		return "None"
	}
	return string(k)
}

func (k ChallengeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Category groups kinds by how the caller should react.
func (k ChallengeKind) Category() Category {
	switch k {
	case KindFirewallBlocked1020:
		return CategoryHardBlock
	case KindCaptchaChallengeV2, KindJsChallengeV2:
		return CategoryUnsupported
	case KindCaptchaChallengeV1, KindJsChallengeV1:
		return CategoryDetected
	default:
		return CategoryNone
	}
}

const (
	msgFirewallBlocked = "Cloudflare has blocked this request (Code 1020 Detected)."
	msgCaptchaV2       = "Detected a Cloudflare version 2 Captcha challenge, this feature is not supported by this implementation."
	msgJsV2            = "Detected a Cloudflare version 2 challenge, this feature is not supported by this implementation."
	msgCaptchaV1       = "Detected a Cloudflare version 1 challenge (captcha)."
	msgJsV1            = "Detected a Cloudflare version 1 challenge (javascript)."
)

// Result is the outcome of one classification.
type Result struct {
	Kind    ChallengeKind
	Message string
}

// Err returns the challenge as an error, or nil when nothing was detected.
func (r Result) Err() error {
	if r.Kind == KindNone {
		return nil
	}
	return NewChallengeError(r.Kind, r.Message)
}

// SignalFunc receives every positive classification exactly once.
type SignalFunc func(kind ChallengeKind, message string)

// Classifier detects Cloudflare challenge pages. It holds no mutable state
// and may be shared between goroutines.
type Classifier struct {
	signal SignalFunc
	sigs   *Signatures
}

// NewClassifier creates a classifier using the embedded signatures.
// signal may be nil.
func NewClassifier(signal SignalFunc) *Classifier {
	return NewClassifierWithSignatures(signal, DefaultSignatures())
}

func NewClassifierWithSignatures(signal SignalFunc, sigs *Signatures) *Classifier {
	if sigs == nil {
		sigs = DefaultSignatures()
	}
	return &Classifier{signal: signal, sigs: sigs}
}

// Classify checks resp against every known challenge in priority order and
// signals the first match. Version 2 pages also satisfy the looser version 1
// patterns, so they are checked first.
func (c *Classifier) Classify(resp *Response) Result {
	result := c.classify(resp)
	if result.Kind != KindNone && c.signal != nil {
		c.signal(result.Kind, result.Message)
	}
	return result
}

// IsChallenge reports whether Classify would detect anything, without signaling.
func (c *Classifier) IsChallenge(resp *Response) bool {
	return c.classify(resp).Kind != KindNone
}

func (c *Classifier) classify(resp *Response) Result {
	switch {
	case c.IsFirewallBlocked(resp):
		return Result{Kind: KindFirewallBlocked1020, Message: msgFirewallBlocked}
	case c.IsCaptchaChallengeV2(resp):
		return Result{Kind: KindCaptchaChallengeV2, Message: msgCaptchaV2}
	case c.IsJsChallengeV2(resp):
		return Result{Kind: KindJsChallengeV2, Message: msgJsV2}
	case c.IsCaptchaChallengeV1(resp):
		return Result{Kind: KindCaptchaChallengeV1, Message: msgCaptchaV1}
	case c.IsJsChallengeV1(resp):
		return Result{Kind: KindJsChallengeV1, Message: msgJsV1}
	}
	return Result{Kind: KindNone}
}

// IsFirewallBlocked detects the firewall rule block page (error 1020).
func (c *Classifier) IsFirewallBlocked(resp *Response) bool {
	body, ok := c.cloudflareBody(resp, c.sigs.FirewallStatus)
	return ok && strings.Contains(body, c.sigs.FirewallMarker)
}

// IsCaptchaChallengeV1 detects the hCaptcha challenge form.
func (c *Classifier) IsCaptchaChallengeV1(resp *Response) bool {
	body, ok := c.cloudflareBody(resp, c.sigs.CaptchaStatus)
	return ok && c.sigs.CaptchaAction.MatchString(body)
}

// IsCaptchaChallengeV2 detects the orchestrated captcha or managed challenge.
func (c *Classifier) IsCaptchaChallengeV2(resp *Response) bool {
	if !c.IsCaptchaChallengeV1(resp) {
		return false
	}
	body, _ := resp.Text()
	return c.sigs.CaptchaOrch.MatchString(body) && c.sigs.CaptchaTracker.MatchString(body)
}

// IsJsChallengeV1 detects the "I'm Under Attack Mode" javascript challenge.
func (c *Classifier) IsJsChallengeV1(resp *Response) bool {
	body, ok := c.cloudflareBody(resp, c.sigs.JSStatus)
	return ok && c.sigs.JSForm.MatchString(body)
}

// IsJsChallengeV2 detects the orchestrated javascript challenge.
func (c *Classifier) IsJsChallengeV2(resp *Response) bool {
	body, ok := c.cloudflareBody(resp, c.sigs.JSStatus)
	return ok &&
		c.sigs.JSOrchestrate.MatchString(body) &&
		c.sigs.JSEnterFunction.MatchString(body)
}

// cloudflareBody returns the body when the response was served by Cloudflare
// with one of the given status codes. Absent fields never match.
func (c *Classifier) cloudflareBody(resp *Response, statuses []int) (string, bool) {
	server, ok := resp.HeaderValue("Server")
	if !ok || !strings.HasPrefix(server, c.sigs.ServerPrefix) {
		return "", false
	}
	status, ok := resp.Status()
	if !ok || !slices.Contains(statuses, status) {
		return "", false
	}
	return resp.Text()
}

// Unescape decodes HTML entities such as "&amp;" and "&#39;".
func Unescape(text string) string {
	return html.UnescapeString(text)
}
