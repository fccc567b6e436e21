// Package browser provides the page driver contract used by the automation
// sequence, plus chromedp and go-rod implementations that share the same
// anti-bot-detection launch configuration.
package browser

import (
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is a realistic Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Supported driver names.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Options configures how the browser is launched.
type Options struct {
	Driver    string
	Headless  bool
	UserAgent string
	Width     int
	Height    int
	// ExecPath is the Chrome binary. Empty lets each driver look it up.
	ExecPath string
	// SlowMotion delays every input action. Zero disables it.
	SlowMotion time.Duration
}

// DefaultOptions returns the launch options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Driver:    DriverChromedp,
		Headless:  true,
		UserAgent: DefaultUserAgent,
		Width:     1920,
		Height:    1080,
	}
}

// stealthFlags are the command line switches applied to every launched
// Chrome, regardless of driver.
func stealthFlags(o Options) map[string]string {
	flags := map[string]string{
		// Prevent navigator.webdriver = true detection.
		"disable-blink-features":   "AutomationControlled",
		"disable-extensions":       "",
		"disable-default-apps":     "",
		"disable-infobars":         "",
		"no-first-run":             "",
		"no-default-browser-check": "",
		"window-size":              fmt.Sprintf("%d,%d", o.Width, o.Height),
	}
	if o.Headless {
		flags["disable-gpu"] = ""
	}
	return flags
}

// ExecAllocatorOptions returns chromedp allocator options with
// anti-bot-detection measures.
func ExecAllocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.UserAgent(userAgent(o)),
	)
	for name, value := range stealthFlags(o) {
		if value == "" {
			opts = append(opts, chromedp.Flag(name, true))
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	return opts
}

func userAgent(o Options) string {
	if o.UserAgent == "" {
		return DefaultUserAgent
	}
	return o.UserAgent
}
