// Package automation implements the Instagram interaction sequence: log in,
// search, open the first matching result and comment while stepping through
// its posts.
package automation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibeckermayer/instaflow/internal/browser"
	"github.com/ibeckermayer/instaflow/internal/types"
)

// Timeouts bounds the waits of the sequence. Default applies to every
// required step that has no bound of its own.
type Timeouts struct {
	Default         time.Duration
	CookieConsent   time.Duration
	Landmark        time.Duration
	SaveInfo        time.Duration
	LoginRequest    time.Duration
	DialogClose     time.Duration
	LoaderAppear    time.Duration
	LoaderDisappear time.Duration
	ScrollSettle    time.Duration
}

// DefaultTimeouts returns the bounds the sequence was tuned with.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:         30 * time.Second,
		CookieConsent:   5 * time.Second,
		Landmark:        10 * time.Second,
		SaveInfo:        5 * time.Second,
		LoginRequest:    10 * time.Second,
		DialogClose:     5 * time.Second,
		LoaderAppear:    3 * time.Second,
		LoaderDisappear: 5 * time.Second,
		ScrollSettle:    time.Second,
	}
}

// Options are the read-only inputs of one run.
type Options struct {
	Username   string
	Password   string
	SearchText string
	// PostCount is how many times to advance to the next post after the
	// first one has been commented on.
	PostCount int
	Comment   string
	// PreloadScrolls runs ScrollAndWait this many times before waiting for
	// post links.
	PreloadScrolls int
	Timeouts       Timeouts
}

// StepError is returned when a required step fails. It aborts the run.
type StepError struct {
	Index int
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// step is one guarded action of the sequence.
type step struct {
	name    string
	policy  types.Policy
	timeout time.Duration
	// skipped is logged when an optional step fails.
	skipped string
	do      func(ctx context.Context) error
}

// Sequence runs the fixed interaction script against a page.
type Sequence struct {
	page browser.Page
	opts Options
	log  *zap.Logger
}

// New creates a sequence. A nil logger discards diagnostics.
func New(page browser.Page, opts Options, log *zap.Logger) *Sequence {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}
	return &Sequence{page: page, opts: opts, log: log}
}

// Run executes every step in order. Optional step failures are logged and
// ignored; the first required step failure stops the run and is returned as
// a *StepError. The report is returned in both cases.
func (s *Sequence) Run(ctx context.Context) (*types.RunReport, error) {
	report := &types.RunReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Search:    s.opts.SearchText,
		PostCount: s.opts.PostCount,
	}
	log := s.log.With(zap.String("run", report.ID))
	log.Info("Starting sequence",
		zap.String("search", s.opts.SearchText),
		zap.Int("posts", s.opts.PostCount))

	for i, st := range s.steps() {
		index := i + 1
		start := time.Now()

		stepCtx, cancel := context.WithTimeout(ctx, st.timeout)
		err := st.do(stepCtx)
		cancel()

		result := types.StepResult{
			Index:    index,
			Name:     st.name,
			Policy:   st.policy,
			Duration: time.Since(start),
		}

		switch {
		case err == nil:
			result.Status = types.StatusOK
			log.Debug("Step done", zap.Int("step", index), zap.String("name", st.name), zap.Duration("took", result.Duration))

		case st.policy == types.Optional && ctx.Err() == nil:
			result.Status = types.StatusSkipped
			result.Error = err.Error()
			log.Info(st.skipped, zap.Int("step", index), zap.Error(err))

		default:
			result.Status = types.StatusFailed
			result.Error = err.Error()
			report.Steps = append(report.Steps, result)
			report.FinishedAt = time.Now()

			stepErr := &StepError{Index: index, Name: st.name, Err: err}
			report.Err = stepErr.Error()
			log.Error("Sequence aborted", zap.Int("step", index), zap.String("name", st.name), zap.Error(err))
			return report, stepErr
		}

		report.Steps = append(report.Steps, result)
	}

	report.FinishedAt = time.Now()
	log.Info("Sequence finished",
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int("skipped", report.Count(types.StatusSkipped)))
	return report, nil
}

func (s *Sequence) steps() []step {
	t := s.opts.Timeouts
	p := s.page

	return []step{
		{
			name: "open home page", policy: types.Required, timeout: t.Default,
			do: func(ctx context.Context) error {
				return p.Navigate(ctx, HomeURL)
			},
		},
		{
			name: "dismiss cookie consent", policy: types.Optional, timeout: t.CookieConsent,
			skipped: "Cookie consent prompt did not appear, continuing",
			do: func(ctx context.Context) error {
				return p.Click(ctx, CookieConsentButton)
			},
		},
		{
			name: "wait for login form", policy: types.Required, timeout: t.Default,
			do: func(ctx context.Context) error {
				return p.WaitFor(ctx, UsernameInput, browser.StateVisible)
			},
		},
		{
			name: "fill credentials", policy: types.Required, timeout: t.Default,
			do: func(ctx context.Context) error {
				if err := p.Fill(ctx, UsernameInput, s.opts.Username); err != nil {
					return err
				}
				return p.Fill(ctx, PasswordInput, s.opts.Password)
			},
		},
		{
			name: "submit login", policy: types.Required, timeout: t.Default,
			do: func(ctx context.Context) error {
				return p.Click(ctx, LoginSubmit)
			},
		},
		{
			name: "wait for page load", policy: types.Required, timeout: t.Default,
			do: p.WaitLoad,
		},
		{
			name: "wait for home landmark", policy: types.Optional, timeout: t.Landmark,
			skipped: "Navigation element not found after login, continuing anyway",
			do: func(ctx context.Context) error {
				return p.WaitFor(ctx, HomeLandmark, browser.StateVisible)
			},
		},
		{
			name: "dismiss save info prompt", policy: types.Optional, timeout: t.SaveInfo,
			skipped: "Save login info prompt did not appear, continuing",
			do: func(ctx context.Context) error {
				return p.Click(ctx, SaveInfoButton)
			},
		},
		{
			name: "observe login query", policy: types.Optional, timeout: t.LoginRequest,
			skipped: "GraphQL query request not detected within timeout, continuing anyway",
			do: func(ctx context.Context) error {
				return p.WaitRequest(ctx, IsLoginQuery)
			},
		},
		{
			name: "open search", policy: types.Required, timeout: t.Default,
			do: func(ctx context.Context) error {
				if err := p.WaitFor(ctx, SearchLink, browser.StateVisible); err != nil {
					return err
				}
				return p.Click(ctx, SearchLink)
			},
		},
		{
			name: "submit search", policy: types.Required, timeout: t.Default,
			do: func(ctx context.Context) error {
				if err := p.Fill(ctx, SearchInput, s.opts.SearchText); err != nil {
					return err
				}
				return p.Press(ctx, browser.KeyEnter)
			},
		},
		{
			name: "wait for search results", policy: types.Required, timeout: t.Default,
			do: func(ctx context.Context) error {
				return p.WaitFor(ctx, SearchResults, browser.StateVisible)
			},
		},
		{
			name: "open matching result", policy: types.Required, timeout: t.Default,
			do: s.openMatchingResult,
		},
		{
			name: "wait for post links", policy: types.Required,
			timeout: t.Default + time.Duration(s.opts.PreloadScrolls)*(t.LoaderAppear+t.LoaderDisappear+t.ScrollSettle),
			do: s.waitForPosts,
		},
		{
			name: "open first post", policy: types.Required, timeout: 2 * t.Default,
			do: s.openFirstPost,
		},
		{
			name: "comment on next posts", policy: types.Required,
			timeout: time.Duration(s.opts.PostCount+1) * t.Default,
			do: s.commentOnNextPosts,
		},
		{
			name: "close post dialog", policy: types.Required, timeout: t.DialogClose,
			do: func(ctx context.Context) error {
				if err := p.Press(ctx, browser.KeyEscape); err != nil {
					return err
				}
				return p.WaitFor(ctx, PostDialog, browser.StateHidden)
			},
		},
	}
}

// IsLoginQuery matches the GraphQL POST the web app sends once logged in.
func IsLoginQuery(r browser.Request) bool {
	return strings.Contains(r.URL, LoginQueryURL) && r.Method == http.MethodPost
}

// MatchesSearch reports whether text contains term, ignoring case.
func MatchesSearch(text, term string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(term))
}

// openMatchingResult clicks the first result, in document order, whose text
// contains the search term. Having no match is not an error.
func (s *Sequence) openMatchingResult(ctx context.Context) error {
	results, err := s.page.Elements(ctx, SearchResults)
	if err != nil {
		return err
	}

	for _, r := range results {
		text, err := r.Text(ctx)
		if err != nil {
			return err
		}
		if MatchesSearch(text, s.opts.SearchText) {
			s.log.Info("Opening search result", zap.String("text", strings.TrimSpace(text)))
			return r.Click(ctx)
		}
	}

	s.log.Info("No search result matched, continuing", zap.String("search", s.opts.SearchText), zap.Int("results", len(results)))
	return nil
}

func (s *Sequence) waitForPosts(ctx context.Context) error {
	scroll := ScrollOptions{
		LoaderAppear:    s.opts.Timeouts.LoaderAppear,
		LoaderDisappear: s.opts.Timeouts.LoaderDisappear,
		Settle:          s.opts.Timeouts.ScrollSettle,
	}
	for i := 0; i < s.opts.PreloadScrolls; i++ {
		if err := ScrollAndWait(ctx, s.page, scroll, s.log); err != nil {
			return err
		}
	}
	return s.page.WaitFor(ctx, PostLinks, browser.StateVisible)
}

// openFirstPost opens the first post link in its dialog and comments on it.
// The comment is best effort.
func (s *Sequence) openFirstPost(ctx context.Context) error {
	posts, err := s.page.Elements(ctx, PostLinks)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		return errors.New("no post links found")
	}

	if err := posts[0].Click(ctx); err != nil {
		return err
	}
	if err := s.page.WaitFor(ctx, PostDialog, browser.StateVisible); err != nil {
		return err
	}

	commentCtx, cancel := context.WithTimeout(ctx, s.opts.Timeouts.Default)
	defer cancel()
	if err := s.comment(commentCtx); err != nil {
		s.log.Info("Could not comment on first post, continuing", zap.Error(err))
	}
	return nil
}

// commentOnNextPosts advances through the open dialog PostCount times,
// commenting on each post.
func (s *Sequence) commentOnNextPosts(ctx context.Context) error {
	for i := 0; i < s.opts.PostCount; i++ {
		if err := s.page.Press(ctx, browser.KeyArrowRight); err != nil {
			return fmt.Errorf("advancing to post %d: %w", i+2, err)
		}
		if err := s.comment(ctx); err != nil {
			return fmt.Errorf("commenting on post %d: %w", i+2, err)
		}
	}
	return nil
}

func (s *Sequence) comment(ctx context.Context) error {
	if err := s.page.Fill(ctx, CommentField, s.opts.Comment); err != nil {
		return err
	}
	return s.page.Click(ctx, CommentSubmit)
}
