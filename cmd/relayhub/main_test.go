package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/relayhub/signature"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "Event Relay Hub", cfg.AppName)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Forward.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Replay.Cooldown)
	assert.Equal(t, 300*time.Second, cfg.Replay.SuccessTTL)
	assert.Equal(t, 60, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Zero(t, cfg.Sweeper.Interval)
	assert.Equal(t, 30, cfg.Retention.Days)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
forward:
  enabled: true
  url: https://downstream.example.com/hook
  timeout: 3s
replay:
  cooldown: 5s
signatures:
  github_secret: from-file
`), 0o600))

	t.Setenv("RELAYHUB_SIGNATURES_GITHUB_SECRET", "from-env")
	t.Setenv("RELAYHUB_DATABASE_DRIVER", "postgres")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Forward.Enabled)
	assert.Equal(t, "https://downstream.example.com/hook", cfg.Forward.URL)
	assert.Equal(t, 3*time.Second, cfg.Forward.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Replay.Cooldown)
	assert.Equal(t, "from-env", cfg.Signatures.GitHubSecret)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, LoggingConfig{Level: "info", Format: "text"}).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "service=relayhub")

	buf.Reset()
	newLogger(&buf, LoggingConfig{Level: "info", Format: "json"}).Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := openStore(t.Context(), DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)

	_, err = openStore(t.Context(), DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)

	st, err := openStore(t.Context(), DatabaseConfig{Driver: "memory"})
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestSignCommand(t *testing.T) {
	body := `{"zen":"hi"}`

	out := runCmd(t, "sign", "--source", "github", "--secret", "s3cr3t", "--data", body)
	name, value, ok := strings.Cut(strings.TrimSpace(out), ": ")
	require.True(t, ok, out)
	assert.Equal(t, "X-Hub-Signature-256", name)
	assert.True(t, signature.Verify("github", []byte(body), value, "s3cr3t"))

	out = runCmd(t, "sign", "--source", "stripe", "--secret", "whsec_x", "--data", body, "--timestamp", "1700000000")
	assert.True(t, strings.HasPrefix(out, "Stripe-Signature: t=1700000000,v1="), out)
}

func TestSignCommandNeedsPayload(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"sign", "--secret", "x"})
	assert.Error(t, root.Execute())
}

func TestSecretCommand(t *testing.T) {
	out := strings.TrimSpace(runCmd(t, "secret"))
	assert.True(t, strings.HasPrefix(out, "whsec_"))
	assert.Len(t, out, len("whsec_")+64)
}
