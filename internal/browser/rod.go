package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// RodPage drives a single Chrome page with go-rod.
type RodPage struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	slowMotion time.Duration
}

// NewRodPage launches Chrome through the rod launcher with the same stealth
// flags as the chromedp driver.
func NewRodPage(ctx context.Context, o Options) (*RodPage, error) {
	l := launcher.New().Context(ctx).Headless(o.Headless)
	for name, value := range stealthFlags(o) {
		if value == "" {
			l = l.Set(flags.Flag(name))
			continue
		}
		l = l.Set(flags.Flag(name), value)
	}
	if o.ExecPath != "" {
		l = l.Bin(o.ExecPath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}

	// fail shuts down what has been started so far.
	fail := func(msg string, err error) (*RodPage, error) {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fail("failed to open page", err)
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent(o)}); err != nil {
		return fail("failed to set user agent", err)
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fail("failed to enable network events", err)
	}
	if err := (proto.AccessibilityEnable{}).Call(page); err != nil {
		return fail("failed to enable accessibility", err)
	}

	return &RodPage{launcher: l, browser: b, page: page, slowMotion: o.SlowMotion}, nil
}

func (p *RodPage) pause(ctx context.Context) error {
	return slowDown(ctx, p.slowMotion)
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	if err := p.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *RodPage) resolve(ctx context.Context, sel Selector, state State) (string, error) {
	if sel.Role != "" {
		return poll(ctx, sel.String(), func(ctx context.Context) (string, error) {
			refs, err := p.roleRefs(ctx, sel, tagVisibleJS, true)
			if err != nil {
				return "", err
			}
			return settle(state, refs), nil
		})
	}

	pg := p.page.Context(ctx)
	return poll(ctx, sel.String(), func(ctx context.Context) (string, error) {
		res, err := pg.Eval(findJS, sel.CSS, string(state))
		if err != nil {
			return "", err
		}
		return res.Value.Str(), nil
	})
}

// roleRefs finds the nodes matching a role selector in the browser's
// accessibility tree and evaluates fn on each to tag it. Empty results are
// dropped. With first set it stops at the first non-empty ref.
func (p *RodPage) roleRefs(ctx context.Context, sel Selector, fn string, first bool) ([]string, error) {
	pg := p.page.Context(ctx)
	tree, err := proto.AccessibilityGetFullAXTree{}.Call(pg)
	if err != nil {
		return nil, err
	}

	var refs []string
	for _, id := range matchRole(rodAXNodes(tree.Nodes), sel.Role, sel.Name) {
		el, err := pg.ElementFromNode(&proto.DOMNode{BackendNodeID: proto.DOMBackendNodeID(id)})
		if err != nil {
			// Detached since the tree was read.
			continue
		}
		res, err := el.Eval(fn)
		_ = el.Release()
		if err != nil {
			continue
		}
		ref := res.Value.Str()
		if ref == "" {
			continue
		}
		refs = append(refs, ref)
		if first {
			break
		}
	}
	return refs, nil
}

func rodAXNodes(nodes []*proto.AccessibilityAXNode) []axNode {
	out := make([]axNode, 0, len(nodes))
	for _, n := range nodes {
		node := axNode{ignored: n.Ignored, backend: int64(n.BackendDOMNodeID)}
		if n.Role != nil {
			node.role = n.Role.Value.Str()
		}
		if n.Name != nil {
			node.name = n.Name.Value.Str()
		}
		out = append(out, node)
	}
	return out
}

// element resolves sel to a visible element handle.
func (p *RodPage) element(ctx context.Context, sel Selector) (*rod.Element, error) {
	ref, err := p.resolve(ctx, sel, StateVisible)
	if err != nil {
		return nil, err
	}
	el, err := p.page.Context(ctx).Element(refSelector(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to locate %s: %w", sel, err)
	}
	return el, nil
}

func (p *RodPage) WaitFor(ctx context.Context, sel Selector, state State) error {
	_, err := p.resolve(ctx, sel, state)
	return err
}

func (p *RodPage) Click(ctx context.Context, sel Selector) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := p.pause(ctx); err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", sel, err)
	}
	return nil
}

func (p *RodPage) Fill(ctx context.Context, sel Selector, value string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := p.pause(ctx); err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", sel, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("failed to fill %s: %w", sel, err)
	}
	return nil
}

var rodKeys = map[Key]input.Key{
	KeyEnter:      input.Enter,
	KeyArrowRight: input.ArrowRight,
	KeyEscape:     input.Escape,
}

func (p *RodPage) Press(ctx context.Context, key Key) error {
	k, ok := rodKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	if err := p.pause(ctx); err != nil {
		return err
	}
	if err := p.page.Context(ctx).Keyboard.Press(k); err != nil {
		return fmt.Errorf("failed to press %s: %w", key, err)
	}
	return nil
}

func (p *RodPage) WaitLoad(ctx context.Context) error {
	if err := p.page.Context(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("waiting for load event: %w", err)
	}
	return nil
}

func (p *RodPage) Elements(ctx context.Context, sel Selector) ([]Element, error) {
	var refs []string
	if sel.Role != "" {
		var err error
		if refs, err = p.roleRefs(ctx, sel, tagJS, false); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", sel, err)
		}
	} else {
		res, err := p.page.Context(ctx).Eval(tagAllJS, sel.CSS)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", sel, err)
		}
		for _, ref := range res.Value.Arr() {
			refs = append(refs, ref.Str())
		}
	}

	elems := make([]Element, 0, len(refs))
	for _, ref := range refs {
		elems = append(elems, &rodElement{page: p, query: refSelector(ref)})
	}
	return elems, nil
}

func (p *RodPage) WaitRequest(ctx context.Context, match func(Request) bool) error {
	wait := p.page.Context(ctx).EachEvent(func(e *proto.NetworkRequestWillBeSent) bool {
		if e.Request == nil {
			return false
		}
		return match(Request{URL: e.Request.URL, Method: e.Request.Method})
	})
	wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("waiting for request: %w", err)
	}
	return nil
}

func (p *RodPage) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => { ` + scrollJS + ` }`)
	return err
}

// Close shuts the browser down, kills the process if it lingers and removes
// its user data dir.
func (p *RodPage) Close() error {
	err := p.browser.Close()
	p.launcher.Kill()
	p.launcher.Cleanup()
	return err
}

type rodElement struct {
	page  *RodPage
	query string
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	el, err := e.page.page.Context(ctx).Element(e.query)
	if err != nil {
		return "", fmt.Errorf("failed to locate %s: %w", e.query, err)
	}
	res, err := el.Eval(`function() { return this.textContent || ''; }`)
	if err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", e.query, err)
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Click(ctx context.Context) error {
	el, err := e.page.page.Context(ctx).Element(e.query)
	if err != nil {
		return fmt.Errorf("failed to locate %s: %w", e.query, err)
	}
	if err := e.page.pause(ctx); err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", e.query, err)
	}
	return nil
}
