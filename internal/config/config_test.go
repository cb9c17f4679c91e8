package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/and161185/quizdeck/internal/errs"
)

func clientFlags(t *testing.T) *pflag.FlagSet {
	t.Helper()
	def := DefaultClient()
	fs := pflag.NewFlagSet("qd", pflag.ContinueOnError)
	fs.String("store", def.Store, "")
	fs.String("backend-url", def.BackendURL, "")
	fs.Duration("request-timeout", def.RequestTimeout, "")
	fs.String("log-level", def.Log.Level, "")
	return fs
}

func TestLoadClient_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"), false, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultClient(), cfg)
	require.Equal(t, 8*time.Second, cfg.RequestTimeout)
}

func TestLoadClient_MissingRequiredFile(t *testing.T) {
	_, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"), true, nil)
	require.Error(t, err)
}

func TestLoadClient_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
store: /tmp/from-file.db
backend_url: https://file.example/exec
request_timeout: 3s
log:
  level: info
  format: json
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("QD_BACKEND_URL", "https://env.example/exec")
	t.Setenv("QD_LOG__LEVEL", "debug")

	fs := clientFlags(t)
	require.NoError(t, fs.Parse([]string{"--request-timeout=5s"}))

	cfg, err := LoadClient(path, true, fs)
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-file.db", cfg.Store, "file beats default, unchanged flag keeps file value")
	require.Equal(t, "https://env.example/exec", cfg.BackendURL, "env beats file")
	require.Equal(t, 5*time.Second, cfg.RequestTimeout, "flag beats file")
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, 15*time.Second, cfg.LeaseTTL)
}

func TestLoadClient_Invalid(t *testing.T) {
	t.Setenv("QD_BACKEND_URL", "not a url")
	_, err := LoadClient("", false, nil)
	require.Error(t, err)
	require.True(t, errs.IsValidation(err))
}

func TestLoadServer(t *testing.T) {
	t.Setenv("QDS_API_KEY", "secret")
	t.Setenv("QDS_LOCKOUT__THRESHOLD", "3")
	t.Setenv("QDS_CORS_ORIGINS", "https://a.example,https://b.example")

	fs := pflag.NewFlagSet("qd-server", pflag.ContinueOnError)
	fs.String("addr", ":8080", "")
	require.NoError(t, fs.Parse([]string{"--addr=:9090"}))

	cfg, err := LoadServer("", fs)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr)
	require.Equal(t, "secret", cfg.APIKey)
	require.Equal(t, 3, cfg.Lockout.Threshold)
	require.Equal(t, 15*time.Minute, cfg.Lockout.Window)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadServer_RequiresAPIKey(t *testing.T) {
	_, err := LoadServer("", nil)
	require.True(t, errs.IsValidation(err))
}

func TestKeys(t *testing.T) {
	require.Equal(t, "log.level", EnvKey("QD_", "QD_LOG__LEVEL"))
	require.Equal(t, "backend_url", EnvKey("QD_", "QD_BACKEND_URL"))
	require.Equal(t, "backend_url", FlagKey("backend-url"))
	require.Equal(t, "log.max_size_mb", FlagKey("log-max-size-mb"))
	require.Equal(t, "lockout.window", FlagKey("lockout-window"))
	require.Equal(t, "store", FlagKey("store"))
}
