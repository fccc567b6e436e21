package automation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/instaflow/internal/browser"
)

// ScrollOptions bounds the waits of ScrollAndWait.
type ScrollOptions struct {
	LoaderAppear    time.Duration
	LoaderDisappear time.Duration
	// Settle is the pause after loading so new content can render.
	Settle time.Duration
}

// ScrollAndWait scrolls to the bottom of the page to trigger infinite
// scroll, waits for the loading indicator to come and go, then pauses for
// the new content to render. Only the scroll itself can fail; the indicator
// waits are best effort.
func ScrollAndWait(ctx context.Context, page browser.Page, opts ScrollOptions, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	if err := page.ScrollToBottom(ctx); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}

	if err := waitLoader(ctx, page, opts); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug("Loading indicator not observed, continuing", zap.Error(err))
	}

	if opts.Settle <= 0 {
		return nil
	}
	timer := time.NewTimer(opts.Settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func waitLoader(ctx context.Context, page browser.Page, opts ScrollOptions) error {
	appearCtx, cancel := context.WithTimeout(ctx, opts.LoaderAppear)
	defer cancel()
	if err := page.WaitFor(appearCtx, LoadingIndicator, browser.StateVisible); err != nil {
		return err
	}

	goneCtx, cancel := context.WithTimeout(ctx, opts.LoaderDisappear)
	defer cancel()
	return page.WaitFor(goneCtx, LoadingIndicator, browser.StateHidden)
}
