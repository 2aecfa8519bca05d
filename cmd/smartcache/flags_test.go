package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("SMARTCACHE_CONFIG", "")
	t.Setenv("SMARTCACHE_LOG_LEVEL", "")

	cfg, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfigPaths)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Zero(t, cfg.ShutdownTimeout)
}

func TestParseFlags_LayersAndOverrides(t *testing.T) {
	cfg, err := parseFlags([]string{
		"-config", "base.json",
		"-c", "prod.json",
		"-log-format", "text",
		"-debug",
		"-shutdown-timeout", "3s",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"base.json", "prod.json"}, cfg.ConfigPaths)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestParseFlags_EnvFallbacks(t *testing.T) {
	t.Setenv("SMARTCACHE_CONFIG", "from-env.json")
	t.Setenv("SMARTCACHE_LOG_LEVEL", "warn")
	t.Setenv("SMARTCACHE_SHUTDOWN_TIMEOUT", "7s")

	cfg, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"from-env.json"}, cfg.ConfigPaths)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7*time.Second, cfg.ShutdownTimeout)
}

func TestParseFlags_HelpPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	cfg, err := parseFlags([]string{"-help"}, &out)
	require.NoError(t, err)
	assert.True(t, cfg.ShowHelp)
	assert.Contains(t, out.String(), "Usage: smartcache")
	assert.Contains(t, out.String(), "-shutdown-timeout")
}

func TestParseFlags_UnknownFlag(t *testing.T) {
	_, err := parseFlags([]string{"-nope"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, flag.ErrHelp)
}

func TestValidateFlags(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(existing, []byte(`{}`), 0o600))

	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr string
	}{
		{"valid", CLIConfig{ConfigPaths: []string{existing}, LogLevel: "info", LogFormat: "json"}, ""},
		{"missing file", CLIConfig{ConfigPaths: []string{filepath.Join(dir, "nope.json")}, LogLevel: "info", LogFormat: "json"}, "config file not found"},
		{"bad level", CLIConfig{LogLevel: "loud", LogFormat: "json"}, "invalid log level"},
		{"bad format", CLIConfig{LogLevel: "info", LogFormat: "xml"}, "invalid log format"},
		{"negative timeout", CLIConfig{LogLevel: "info", LogFormat: "json", ShutdownTimeout: -time.Second}, "invalid shutdown timeout"},
		{"version skips checks", CLIConfig{ShowVersion: true, LogLevel: "loud"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger("warn", "json", &buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "smartcache", rec["service"])
	assert.Equal(t, Version, rec["version"])
	assert.Equal(t, "value", rec["key"])
}

func TestSetupLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	setupLogger("debug", "text", &buf).Debug("detail")
	assert.Contains(t, buf.String(), "msg=detail")
	assert.Contains(t, buf.String(), "source=")
}

func TestRun_InfoFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "smartcache version "+Version)

	stdout.Reset()
	require.NoError(t, run([]string{"-schema"}, &stdout, &stderr))
	var schema map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &schema))
	assert.Contains(t, schema, "properties")
}

func TestRun_ValidateOnly(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("config.json", []byte(`{"cache":{"max_size":10}}`), 0o600))

	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-config", "config.json", "-validate", "-log-format", "text"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Configuration is valid")

	require.NoError(t, os.WriteFile("bad.json", []byte(`{"cache":{"max_size":-1}}`), 0o600))
	err := run([]string{"-config", "bad.json", "-validate"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
