package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/ibeckermayer/instaflow/internal/browser"
)

// Config holds all application configuration
type Config struct {
	Version  int            `toml:"version"`
	Account  AccountConfig  `toml:"account"`
	Search   SearchConfig   `toml:"search"`
	Feed     FeedConfig     `toml:"feed"`
	Browser  BrowserConfig  `toml:"browser"`
	Timeouts TimeoutsConfig `toml:"timeouts"`
	Schedule ScheduleConfig `toml:"schedule"`
	History  HistoryConfig  `toml:"history"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
}

// AccountConfig holds the login credentials. They are normally supplied
// through the environment rather than the config file.
type AccountConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type SearchConfig struct {
	Text      string `toml:"text"`
	PostCount int    `toml:"post_count"`
	Comment   string `toml:"comment"`
}

type FeedConfig struct {
	// PreloadScrolls runs the scroll-and-wait helper this many times before
	// waiting for post links. Zero keeps the plain sequence.
	PreloadScrolls int `toml:"preload_scrolls"`
}

type BrowserConfig struct {
	Driver     string   `toml:"driver"`
	Headless   bool     `toml:"headless"`
	UserAgent  string   `toml:"user_agent"`
	ExecPath   string   `toml:"exec_path"`
	SlowMotion Duration `toml:"slow_motion"`
}

// TimeoutsConfig bounds every wait of the sequence.
type TimeoutsConfig struct {
	Default         Duration `toml:"default"`
	CookieConsent   Duration `toml:"cookie_consent"`
	Landmark        Duration `toml:"landmark"`
	SaveInfo        Duration `toml:"save_info"`
	LoginRequest    Duration `toml:"login_request"`
	DialogClose     Duration `toml:"dialog_close"`
	LoaderAppear    Duration `toml:"loader_appear"`
	LoaderDisappear Duration `toml:"loader_disappear"`
	ScrollSettle    Duration `toml:"scroll_settle"`
	Run             Duration `toml:"run"`
}

type ScheduleConfig struct {
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// NotifyConfig controls the summary email sent after each run.
type NotifyConfig struct {
	Enabled       bool   `toml:"enabled"`
	OnlyOnFailure bool   `toml:"only_on_failure"`
	Provider      string `toml:"provider"` // "smtp"
	SMTPHost      string `toml:"smtp_host"`
	SMTPPort      int    `toml:"smtp_port"`
	SMTPUser      string `toml:"smtp_user"`
	SMTPPass      string `toml:"smtp_pass"`
	FromAddr      string `toml:"from_addr"`
	ToAddr        string `toml:"to_addr"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Duration is a time.Duration written as a Go duration string ("5s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func seconds(n int) Duration {
	return Duration{time.Duration(n) * time.Second}
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			Text:      "tshirt",
			PostCount: 3,
			Comment:   "Nice post!",
		},
		Browser: BrowserConfig{
			Driver:    browser.DriverChromedp,
			Headless:  true,
			UserAgent: browser.DefaultUserAgent,
		},
		Timeouts: TimeoutsConfig{
			Default:         seconds(30),
			CookieConsent:   seconds(5),
			Landmark:        seconds(10),
			SaveInfo:        seconds(5),
			LoginRequest:    seconds(10),
			DialogClose:     seconds(5),
			LoaderAppear:    seconds(3),
			LoaderDisappear: seconds(5),
			ScrollSettle:    seconds(1),
			Run:             Duration{10 * time.Minute},
		},
		Schedule: ScheduleConfig{
			Cron:     "0 9 * * *",
			Timezone: "Local",
		},
		Notify: NotifyConfig{
			OnlyOnFailure: true,
			Provider:      "smtp",
			SMTPPort:      587,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "instaflow"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the directory holding run history.
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "instaflow"), nil
}

// HistoryPath returns the configured history database path, falling back to
// the cache directory.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// Load builds the configuration from defaults, the TOML file at path (or the
// default config path when empty), a .env file in the working directory and
// finally the process environment.
//
// A missing file at the default path is not an error; a missing file at an
// explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// Variables already set in the environment take precedence over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto the config.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("INSTAGRAM_USERNAME"); ok {
		c.Account.Username = v
	}
	if v, ok := lookup("INSTAGRAM_PASSWORD"); ok {
		c.Account.Password = v
	}
	if v, ok := lookup("SEARCH_TEXT"); ok && v != "" {
		c.Search.Text = v
	}
	if v, ok := lookup("POST_COUNT"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid POST_COUNT %q: %w", v, err)
		}
		c.Search.PostCount = n
	}
	if v, ok := lookup("COMMENT_TEXT"); ok && v != "" {
		c.Search.Comment = v
	}
	if v, ok := lookup("BROWSER_DRIVER"); ok && v != "" {
		c.Browser.Driver = v
	}
	if v, ok := lookup("HEADLESS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HEADLESS %q: %w", v, err)
		}
		c.Browser.Headless = b
	}
	if v, ok := lookup("SMTP_PASSWORD"); ok && v != "" {
		c.Notify.SMTPPass = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Search.PostCount < 0 {
		return fmt.Errorf("post count must not be negative, got %d", c.Search.PostCount)
	}
	if c.Search.Text == "" {
		return fmt.Errorf("search text must not be empty")
	}
	switch c.Browser.Driver {
	case browser.DriverChromedp, browser.DriverRod:
	default:
		return fmt.Errorf("unknown browser driver %q", c.Browser.Driver)
	}

	t := c.Timeouts
	for name, d := range map[string]Duration{
		"default":          t.Default,
		"cookie_consent":   t.CookieConsent,
		"landmark":         t.Landmark,
		"save_info":        t.SaveInfo,
		"login_request":    t.LoginRequest,
		"dialog_close":     t.DialogClose,
		"loader_appear":    t.LoaderAppear,
		"loader_disappear": t.LoaderDisappear,
		"run":              t.Run,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("timeout %s must be positive", name)
		}
	}
	if t.ScrollSettle.Duration < 0 {
		return fmt.Errorf("timeout scroll_settle must not be negative")
	}

	if c.Notify.Enabled {
		if c.Notify.SMTPHost == "" || c.Notify.ToAddr == "" || c.Notify.FromAddr == "" {
			return fmt.Errorf("notify needs smtp_host, from_addr and to_addr")
		}
	}
	return nil
}

// BrowserOptions returns the driver launch options.
func (c *Config) BrowserOptions() browser.Options {
	o := browser.DefaultOptions()
	o.Driver = c.Browser.Driver
	o.Headless = c.Browser.Headless
	if c.Browser.UserAgent != "" {
		o.UserAgent = c.Browser.UserAgent
	}
	o.ExecPath = c.Browser.ExecPath
	o.SlowMotion = c.Browser.SlowMotion.Duration
	return o
}

// Save writes config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	// Credentials stay in the environment.
	out := *c
	out.Account = AccountConfig{}
	out.Notify.SMTPPass = ""

	encoder := toml.NewEncoder(f)
	return encoder.Encode(out)
}
