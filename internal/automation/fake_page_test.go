package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ibeckermayer/instaflow/internal/browser"
)

// fakePage is a scripted browser.Page. Elements are either visible or not;
// waits on absent elements block until the context expires, like a real
// page whose element never renders. Every call is recorded in order.
type fakePage struct {
	mu       sync.Mutex
	visible  map[string]bool
	lists    map[string][]*fakeElement
	requests []browser.Request
	// onClick runs after a selector is clicked.
	onClick map[string]func()
	// onPress runs after a key is pressed.
	onPress map[browser.Key]func()
	calls   []string

	scrollErr error
}

func newFakePage() *fakePage {
	return &fakePage{
		visible: make(map[string]bool),
		lists:   make(map[string][]*fakeElement),
		onClick: make(map[string]func()),
		onPress: make(map[browser.Key]func()),
	}
}

// loggedInPage returns a page on which every required step can succeed and
// every optional element is absent.
func loggedInPage(results []string, posts int) *fakePage {
	p := newFakePage()
	p.show(UsernameInput, PasswordInput, LoginSubmit, SearchLink, SearchInput, SearchResults, PostLinks)
	p.onPress[browser.KeyEscape] = func() { p.hide(PostDialog) }

	for _, text := range results {
		p.lists[SearchResults.String()] = append(p.lists[SearchResults.String()], &fakeElement{page: p, text: text})
	}
	for i := 0; i < posts; i++ {
		p.lists[PostLinks.String()] = append(p.lists[PostLinks.String()], &fakeElement{
			page:    p,
			text:    fmt.Sprintf("post %d", i+1),
			onClick: func() { p.show(PostDialog, CommentField, CommentSubmit) },
		})
	}
	return p
}

func (p *fakePage) show(sels ...browser.Selector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		p.visible[s.String()] = true
	}
}

func (p *fakePage) hide(sels ...browser.Selector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sels {
		delete(p.visible, s.String())
	}
}

func (p *fakePage) record(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *fakePage) isVisible(sel browser.Selector) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[sel.String()]
}

// Calls returns a copy of the recorded calls.
func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// count returns how many recorded calls equal call.
func (p *fakePage) count(call string) int {
	n := 0
	for _, c := range p.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// indexOf returns the position of the first call with the given prefix, or -1.
func (p *fakePage) indexOf(prefix string) int {
	for i, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func (p *fakePage) await(ctx context.Context, sel browser.Selector, state browser.State) error {
	want := state == browser.StateVisible
	if p.isVisible(sel) == want {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.record("navigate %s", url)
	return nil
}

func (p *fakePage) WaitFor(ctx context.Context, sel browser.Selector, state browser.State) error {
	p.record("wait %s %s", sel, state)
	return p.await(ctx, sel, state)
}

func (p *fakePage) Click(ctx context.Context, sel browser.Selector) error {
	if err := p.await(ctx, sel, browser.StateVisible); err != nil {
		return err
	}
	p.record("click %s", sel)
	p.mu.Lock()
	hook := p.onClick[sel.String()]
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (p *fakePage) Fill(ctx context.Context, sel browser.Selector, value string) error {
	if err := p.await(ctx, sel, browser.StateVisible); err != nil {
		return err
	}
	p.record("fill %s=%s", sel, value)
	return nil
}

func (p *fakePage) Press(ctx context.Context, key browser.Key) error {
	p.record("press %s", key)
	p.mu.Lock()
	hook := p.onPress[key]
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (p *fakePage) WaitLoad(ctx context.Context) error {
	p.record("load")
	return nil
}

func (p *fakePage) Elements(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.lists[sel.String()]
	elems := make([]browser.Element, len(list))
	for i, e := range list {
		elems[i] = e
	}
	return elems, nil
}

func (p *fakePage) WaitRequest(ctx context.Context, match func(browser.Request) bool) error {
	p.mu.Lock()
	reqs := append([]browser.Request(nil), p.requests...)
	p.mu.Unlock()
	for _, r := range reqs {
		if match(r) {
			p.record("request %s %s", r.Method, r.URL)
			return nil
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakePage) ScrollToBottom(ctx context.Context) error {
	p.record("scroll")
	return p.scrollErr
}

func (p *fakePage) Close() error {
	return nil
}

type fakeElement struct {
	page    *fakePage
	text    string
	onClick func()
}

func (e *fakeElement) Text(ctx context.Context) (string, error) {
	return e.text, nil
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.page.record("open %s", e.text)
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}
