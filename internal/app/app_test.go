package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/instaflow/internal/automation"
	"github.com/ibeckermayer/instaflow/internal/browser"
	"github.com/ibeckermayer/instaflow/internal/config"
	"github.com/ibeckermayer/instaflow/internal/store"
	"github.com/ibeckermayer/instaflow/internal/types"
)

// blankPage navigates fine but never renders anything.
type blankPage struct {
	mu     sync.Mutex
	closed bool
}

func (p *blankPage) Navigate(ctx context.Context, url string) error { return nil }
func (p *blankPage) WaitFor(ctx context.Context, sel browser.Selector, state browser.State) error {
	<-ctx.Done()
	return ctx.Err()
}
func (p *blankPage) Click(ctx context.Context, sel browser.Selector) error {
	<-ctx.Done()
	return ctx.Err()
}
func (p *blankPage) Fill(ctx context.Context, sel browser.Selector, value string) error {
	<-ctx.Done()
	return ctx.Err()
}
func (p *blankPage) Press(ctx context.Context, key browser.Key) error { return nil }
func (p *blankPage) WaitLoad(ctx context.Context) error                { return nil }
func (p *blankPage) Elements(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	return nil, nil
}
func (p *blankPage) WaitRequest(ctx context.Context, match func(browser.Request) bool) error {
	<-ctx.Done()
	return ctx.Err()
}
func (p *blankPage) ScrollToBottom(ctx context.Context) error { return nil }
func (p *blankPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Account.Username = "alice"
	cfg.Account.Password = "secret"
	ms := func(n int) config.Duration { return config.Duration{Duration: time.Duration(n) * time.Millisecond} }
	cfg.Timeouts.Default = ms(50)
	cfg.Timeouts.CookieConsent = ms(10)
	cfg.Timeouts.Run = ms(2000)
	return cfg
}

func TestRunOnceRecordsFailedRun(t *testing.T) {
	history, err := store.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer history.Close()

	page := &blankPage{}
	var gotOpts browser.Options
	open := func(ctx context.Context, o browser.Options) (browser.Page, error) {
		gotOpts = o
		return page, nil
	}

	a := New(testConfig(), open, history, nil, nil)
	report, err := a.RunOnce(context.Background())

	var stepErr *automation.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 3, stepErr.Index)
	require.NotNil(t, report)
	assert.True(t, page.closed)
	assert.Equal(t, browser.DriverChromedp, gotOpts.Driver)

	runs, err := a.History(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.ID, runs[0].ID)
	assert.False(t, runs[0].Succeeded())
	assert.Equal(t, types.StatusFailed, runs[0].Steps[len(runs[0].Steps)-1].Status)
}

type recordingNotifier struct {
	runs []*types.RunReport
}

func (n *recordingNotifier) NotifyRun(r *types.RunReport) error {
	n.runs = append(n.runs, r)
	return errors.New("smtp down")
}

func TestRunOnceNotifies(t *testing.T) {
	open := func(ctx context.Context, o browser.Options) (browser.Page, error) {
		return &blankPage{}, nil
	}
	n := &recordingNotifier{}

	report, err := New(testConfig(), open, nil, n, nil).RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, n.runs, 1)
	assert.Same(t, report, n.runs[0])
}

func TestRunOnceOpenError(t *testing.T) {
	boom := errors.New("chrome not installed")
	open := func(ctx context.Context, o browser.Options) (browser.Page, error) {
		return nil, boom
	}

	report, err := New(testConfig(), open, nil, nil, nil).RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, report)
}

func TestHistoryDisabled(t *testing.T) {
	_, err := New(testConfig(), nil, nil, nil, nil).History(5)
	assert.Error(t, err)
}

func TestScheduleStopsOnCancel(t *testing.T) {
	a := New(testConfig(), nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Schedule(ctx, false) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule did not return after cancel")
	}
}

func TestScheduleRejectsBadCron(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Cron = "every tuesday"

	err := New(cfg, nil, nil, nil, nil).Schedule(context.Background(), false)
	assert.Error(t, err)
}

// openSignal returns an opener handing out page and reporting each launch on
// the returned channel.
func openSignal(page *blankPage) (Opener, <-chan struct{}) {
	opened := make(chan struct{}, 8)
	return func(ctx context.Context, o browser.Options) (browser.Page, error) {
		opened <- struct{}{}
		return page, nil
	}, opened
}

func TestScheduleCancelAbortsRunningRun(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Cron = "@every 1s"
	cfg.Timeouts.Default = config.Duration{Duration: 30 * time.Second}
	cfg.Timeouts.Run = config.Duration{Duration: time.Minute}

	page := &blankPage{}
	open, opened := openSignal(page)
	a := New(cfg, open, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Schedule(ctx, false) }()

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run never started")
	}
	time.Sleep(200 * time.Millisecond)

	cancel()
	start := time.Now()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Schedule waited for the running sequence after cancel")
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	page.mu.Lock()
	defer page.mu.Unlock()
	assert.True(t, page.closed)
}

func TestScheduleRunNow(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Cron = "0 9 1 1 *"
	cfg.Schedule.Timezone = "UTC"

	open, opened := openSignal(&blankPage{})
	a := New(cfg, open, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Schedule(ctx, true) }()

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not started right away")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule did not return after cancel")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestReloadConfigKeepsOverride(t *testing.T) {
	cfg := testConfig()
	override := func(c *config.Config) {
		c.Search.Text = "hoodie"
		c.Browser.Headless = false
	}
	override(cfg)

	a := New(cfg, nil, nil, nil, nil)
	a.SetOverride(override)

	path := writeConfig(t, `
[search]
text = "from file"
post_count = 7

[browser]
driver = "chromedp"
headless = true
`)
	require.NoError(t, a.ReloadConfig(path))

	got := a.currentConfig()
	assert.Equal(t, "hoodie", got.Search.Text)
	assert.False(t, got.Browser.Headless)
	assert.Equal(t, 7, got.Search.PostCount)
}

func TestReloadConfigValidatesOverride(t *testing.T) {
	cfg := testConfig()
	a := New(cfg, nil, nil, nil, nil)
	a.SetOverride(func(c *config.Config) { c.Browser.Driver = "selenium" })

	path := writeConfig(t, "[search]\ntext = \"from file\"\n")
	assert.Error(t, a.ReloadConfig(path))
	assert.Same(t, cfg, a.currentConfig())
}

func TestReloadConfigReschedules(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Cron = "0 9 * * *"
	cfg.Schedule.Timezone = "UTC"
	a := New(cfg, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Schedule(ctx, false) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return a.sched != nil
	}, 2*time.Second, 10*time.Millisecond)

	path := writeConfig(t, `
[search]
text = "from file"

[schedule]
cron = "30 18 * * *"
timezone = "UTC"
`)
	require.NoError(t, a.ReloadConfig(path))

	a.mu.RLock()
	jobs := a.sched.ListJobs()
	a.mu.RUnlock()
	require.Len(t, jobs, 1)
	assert.Equal(t, "30 18 * * *", jobs[0].Schedule)

	bad := writeConfig(t, "[search]\ntext = \"x\"\n[schedule]\ncron = \"whenever\"\n")
	assert.Error(t, a.ReloadConfig(bad))
	assert.Equal(t, "30 18 * * *", a.currentConfig().Schedule.Cron)
}
