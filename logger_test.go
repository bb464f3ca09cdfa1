package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger(level zapcore.Level) (*zapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &zapLogger{sugar: zap.New(core).Sugar()}, logs
}

func TestFetcherSignal_LogLevels(t *testing.T) {
	tests := []struct {
		kind  ChallengeKind
		level zapcore.Level
	}{
		{KindFirewallBlocked1020, zapcore.WarnLevel},
		{KindCaptchaChallengeV2, zapcore.WarnLevel},
		{KindJsChallengeV2, zapcore.WarnLevel},
		{KindJsChallengeV1, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			logger, logs := newObservedLogger(zapcore.DebugLevel)
			f := &Fetcher{logger: logger}
			f.signal(tt.kind, "detected")

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
		})
	}
}

func TestSignalsSurviveWarnLevel(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.WarnLevel)

	f := &Fetcher{logger: logger}
	f.signal(KindFirewallBlocked1020, msgFirewallBlocked)
	f.signal(KindJsChallengeV1, msgJsV1)
	assert.Equal(t, 1, logs.FilterMessageSnippet("BLOCKED").Len())
	assert.Equal(t, 0, logs.FilterMessageSnippet("CHALLENGE").Len())

	s := &Scanner{logger: logger}
	s.handleFatalError(errors.New("no clients"))
	fatal := logs.FilterMessageSnippet("FATAL ERROR").All()
	require.Len(t, fatal, 1)
	assert.Equal(t, zapcore.ErrorLevel, fatal[0].Level)
}

func TestWorkerLogger_PrefixesEveryLevel(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.DebugLevel)
	w := &workerLogger{id: "ab12", base: logger}

	w.Log("info %d", 1)
	w.Warn("warn %d", 2)
	w.Error("error %d", 3)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "[ab12] info 1", entries[0].Message)
	assert.Equal(t, "[ab12] warn 2", entries[1].Message)
	assert.Equal(t, "[ab12] error 3", entries[2].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}
