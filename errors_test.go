package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"wrapped eof", fmt.Errorf("get page: %w", errors.New("unexpected EOF")), true},
		{"net timeout", timeoutErr{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"unrelated", errors.New("invalid URL escape"), false},
		{"fatal", NewFatalError(errors.New("connection refused")), false},
		{"challenge", NewChallengeError(KindJsChallengeV1, "connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestIsFatalError(t *testing.T) {
	assert.False(t, IsFatalError(nil))
	assert.False(t, IsFatalError(errors.New("x")))

	err := fmt.Errorf("worker: %w", NewFatalError(errors.New("boom")))
	assert.True(t, IsFatalError(err))
	assert.Equal(t, "worker: boom", err.Error())
}

func TestChallengeErrorUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("check: %w", NewChallengeError(KindFirewallBlocked1020, msgFirewallBlocked))

	assert.ErrorIs(t, wrapped, ErrFirewallBlocked)
	assert.NotErrorIs(t, wrapped, ErrDetectedChallenge)

	ce, ok := AsChallengeError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CategoryHardBlock, ce.Category)

	_, ok = AsChallengeError(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsTerminalChallenge(nil))
}
