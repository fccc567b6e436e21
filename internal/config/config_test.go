package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "tshirt", cfg.Search.Text)
	assert.Equal(t, 3, cfg.Search.PostCount)
	assert.Equal(t, "chromedp", cfg.Browser.Driver)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.CookieConsent.Duration)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.LoginRequest.Duration)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"INSTAGRAM_USERNAME": "alice",
		"INSTAGRAM_PASSWORD": "secret",
		"SEARCH_TEXT":        "hoodie",
		"POST_COUNT":         " 7 ",
		"COMMENT_TEXT":       "Love it",
		"BROWSER_DRIVER":     "rod",
		"HEADLESS":           "false",
		"LOG_LEVEL":          "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Account.Username)
	assert.Equal(t, "secret", cfg.Account.Password)
	assert.Equal(t, "hoodie", cfg.Search.Text)
	assert.Equal(t, 7, cfg.Search.PostCount)
	assert.Equal(t, "Love it", cfg.Search.Comment)
	assert.Equal(t, "rod", cfg.Browser.Driver)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnvEmptyKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"SEARCH_TEXT": "",
		"POST_COUNT":  "",
	})))

	assert.Equal(t, "tshirt", cfg.Search.Text)
	assert.Equal(t, 3, cfg.Search.PostCount)
}

func TestApplyEnvInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"post count":  {"POST_COUNT": "three"},
		"headless":    {"HEADLESS": "sometimes"},
		"float count": {"POST_COUNT": "2.5"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Default().ApplyEnv(env(vars)))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative post count", func(c *Config) { c.Search.PostCount = -1 }},
		{"empty search", func(c *Config) { c.Search.Text = "" }},
		{"unknown driver", func(c *Config) { c.Browser.Driver = "selenium" }},
		{"zero default timeout", func(c *Config) { c.Timeouts.Default = Duration{} }},
		{"negative settle", func(c *Config) { c.Timeouts.ScrollSettle = Duration{-time.Second} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	zero := Default()
	zero.Search.PostCount = 0
	assert.NoError(t, zero.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[search]
text = "sneakers"
post_count = 5

[browser]
driver = "rod"

[timeouts]
landmark = "2s"
`), 0600))

	t.Setenv("SEARCH_TEXT", "boots")
	t.Setenv("POST_COUNT", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "boots", cfg.Search.Text, "environment wins over file")
	assert.Equal(t, 5, cfg.Search.PostCount)
	assert.Equal(t, "rod", cfg.Browser.Driver)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Landmark.Duration)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Default.Duration, "unset keys keep defaults")
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[timeouts]\ndefault = \"soon\"\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestHistoryPath(t *testing.T) {
	cfg := Default()
	cfg.History.Path = "/tmp/runs.db"

	p, err := cfg.HistoryPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/runs.db", p)
}

func TestBrowserOptions(t *testing.T) {
	cfg := Default()
	cfg.Browser.Headless = false
	cfg.Browser.SlowMotion = Duration{250 * time.Millisecond}
	cfg.Browser.ExecPath = "/opt/chrome/chrome"

	o := cfg.BrowserOptions()
	assert.False(t, o.Headless)
	assert.Equal(t, "/opt/chrome/chrome", o.ExecPath)
	assert.Equal(t, 250*time.Millisecond, o.SlowMotion)
	assert.Equal(t, 1920, o.Width)
}

func TestValidateNotify(t *testing.T) {
	cfg := Default()
	cfg.Notify.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.Notify.SMTPHost = "smtp.example.com"
	cfg.Notify.FromAddr = "bot@example.com"
	cfg.Notify.ToAddr = "me@example.com"
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvSMTPPassword(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{"SMTP_PASSWORD": "hunter2"})))
	assert.Equal(t, "hunter2", cfg.Notify.SMTPPass)
}
