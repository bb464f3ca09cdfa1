package main

import (
	"errors"
	"net"
	"strings"
)

// =============================================================================
// Challenge Errors
// =============================================================================

// Category tells the caller how to react to a detected challenge.
type Category string

const (
	CategoryNone        Category = ""
	CategoryHardBlock   Category = "HardBlock"
	CategoryUnsupported Category = "UnsupportedChallenge"
	CategoryDetected    Category = "DetectedChallenge"
)

var (
	// ErrFirewallBlocked is a firewall rule block. Retrying will not help.
	ErrFirewallBlocked = errors.New("blocked by cloudflare firewall")
	// ErrUnsupportedChallenge is a challenge this tool cannot hand off for solving.
	ErrUnsupportedChallenge = errors.New("unsupported cloudflare challenge")
	// ErrDetectedChallenge is a solvable challenge; the caller may solve and retry.
	ErrDetectedChallenge = errors.New("cloudflare challenge detected")
)

// ChallengeError reports a classified challenge page.
type ChallengeError struct {
	Kind     ChallengeKind
	Category Category
	Message  string
}

// NewChallengeError builds the error for a positive classification.
func NewChallengeError(kind ChallengeKind, message string) *ChallengeError {
	return &ChallengeError{
		Kind:     kind,
		Category: kind.Category(),
		Message:  message,
	}
}

func (e *ChallengeError) Error() string {
	return e.Message
}

func (e *ChallengeError) Unwrap() error {
	switch e.Category {
	case CategoryHardBlock:
		return ErrFirewallBlocked
	case CategoryUnsupported:
		return ErrUnsupportedChallenge
	case CategoryDetected:
		return ErrDetectedChallenge
	}
	return nil
}

// AsChallengeError extracts a *ChallengeError from err's chain.
func AsChallengeError(err error) (*ChallengeError, bool) {
	var ce *ChallengeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsTerminalChallenge reports whether err is a challenge that must not be retried.
func IsTerminalChallenge(err error) bool {
	return errors.Is(err, ErrFirewallBlocked) || errors.Is(err, ErrUnsupportedChallenge)
}

// =============================================================================
// Fatal Errors
// =============================================================================

// FatalError represents an error that should stop the whole scan.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as fatal.
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// IsFatalError checks if the error is a fatal error that should stop the scan.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

// =============================================================================
// Retryable Errors
// =============================================================================

// retryableErrorPatterns contains transport error substrings worth a retry on another proxy.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"context deadline exceeded",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
	"proxy responded with non 200 code",
}

// IsRetryableError checks if a transport error is temporary and worth retrying with a new proxy.
// Challenge errors are never retryable here.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if IsFatalError(err) {
		return false
	}
	if _, ok := AsChallengeError(err); ok {
		return false
	}

	if isNetworkTimeout(err) {
		return true
	}

	return containsRetryablePattern(err.Error())
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func containsRetryablePattern(errStr string) bool {
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
