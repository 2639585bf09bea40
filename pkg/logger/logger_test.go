package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestForImportBindsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	l := WithPhase(ForImport(base, "trades", "/in/trades.csv"), "indexing")
	l.Info("phase started")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "trades", fields["table"])
	assert.Equal(t, "/in/trades.csv", fields["input"])
	assert.Equal(t, "indexing", fields["phase"])
}

func TestForImportNilBaseFallsBack(t *testing.T) {
	l := ForImport(nil, "t", "f")
	require.NotNil(t, l)
}

func TestBuildRejectsBadLevel(t *testing.T) {
	_, err := build(Config{Level: "loud", Encoding: "json"})
	require.Error(t, err)
}

func TestBuildConsoleAndJSON(t *testing.T) {
	for _, enc := range []string{"json", "console"} {
		l, err := build(Config{Level: "debug", Encoding: enc})
		require.NoError(t, err, enc)
		require.NotNil(t, l, enc)
	}
}
