package logger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Configs(t *testing.T) {
	cases := []struct {
		name string
		cfg  *Config
	}{
		{"default", DefaultConfig()},
		{"production", ProductionConfig()},
		{"debug console", &Config{Level: "debug", Format: "console", Output: "stdout", TimeFormat: "2006-01-02T15:04:05Z07:00"}},
		{"json to stderr", &Config{Level: "info", Format: "json", Output: "stderr", TimeFormat: "2006-01-02T15:04:05Z07:00"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log, err := New(tc.cfg)
			require.NoError(t, err)
			require.NotNil(t, log)
			_ = Sync(log)
		})
	}
}

func TestNewForEnvironment(t *testing.T) {
	for _, env := range []string{"development", "production", "staging"} {
		log, err := NewForEnvironment(env)
		require.NoError(t, err)
		assert.NotNil(t, log)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"DEBUG":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}

	for input, want := range cases {
		assert.Equal(t, want, parseLevel(input), "level %q", input)
	}
}

func TestOpenSink_File(t *testing.T) {
	tmp, err := os.CreateTemp("", "gateway-log-*.log")
	require.NoError(t, err)
	tmp.Close()
	defer os.Remove(tmp.Name())

	log, err := New(&Config{
		Level:      "info",
		Format:     "json",
		Output:     tmp.Name(),
		TimeFormat: "2006-01-02T15:04:05Z07:00",
	})
	require.NoError(t, err)

	log.Info("written to file")
	require.NoError(t, Sync(log))

	content, err := os.ReadFile(tmp.Name())
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to file")
}

func TestOpenSink_BadPathFallsBack(t *testing.T) {
	log, err := New(&Config{
		Level:      "info",
		Format:     "json",
		Output:     "/nonexistent-dir/gateway.log",
		TimeFormat: "2006-01-02T15:04:05Z07:00",
	})
	require.NoError(t, err)
	assert.NotNil(t, log)
}
