package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// ChromePage drives a single Chrome tab over the DevTools protocol with
// chromedp.
type ChromePage struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	slowMotion  time.Duration
}

// NewChromePage launches Chrome with the stealth options and opens a tab.
// The browser lives until Close is called or parent is cancelled.
func NewChromePage(parent context.Context, o Options) (*ChromePage, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, ExecAllocatorOptions(o)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser. Network events are needed by
	// WaitRequest, the accessibility domain by role selectors.
	if err := chromedp.Run(tabCtx, network.Enable(), accessibility.Enable()); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &ChromePage{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		slowMotion:  o.SlowMotion,
	}, nil
}

// bind derives a context that carries the tab but is cancelled as soon as
// ctx is. Cancelling it aborts the running action without closing the tab.
func (p *ChromePage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.bind(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *ChromePage) pause(ctx context.Context) error {
	return slowDown(ctx, p.slowMotion)
}

func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// resolve waits until sel reaches state and returns the ref of the match.
func (p *ChromePage) resolve(ctx context.Context, sel Selector, state State) (string, error) {
	if sel.Role != "" {
		return poll(ctx, sel.String(), func(ctx context.Context) (string, error) {
			refs, err := p.roleRefs(ctx, sel, tagVisibleJS, true)
			if err != nil {
				return "", err
			}
			return settle(state, refs), nil
		})
	}

	expr, err := callJS(findJS, sel.CSS, string(state))
	if err != nil {
		return "", err
	}
	return poll(ctx, sel.String(), func(ctx context.Context) (string, error) {
		var res string
		err := p.run(ctx, chromedp.Evaluate(expr, &res))
		return res, err
	})
}

// roleRefs finds the nodes matching a role selector in the browser's
// accessibility tree and calls fn on each to tag it. Empty results are
// dropped. With first set it stops at the first non-empty ref.
func (p *ChromePage) roleRefs(ctx context.Context, sel Selector, fn string, first bool) ([]string, error) {
	var refs []string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var tree rawAXTree
		if err := cdp.Execute(ctx, "Accessibility.getFullAXTree", nil, &tree); err != nil {
			return err
		}
		for _, id := range matchRole(tree.axNodes(), sel.Role, sel.Name) {
			ref, err := callOnBackendNode(ctx, cdp.BackendNodeID(id), fn)
			if err != nil {
				// Detached since the tree was read.
				continue
			}
			if ref == "" {
				continue
			}
			refs = append(refs, ref)
			if first {
				break
			}
		}
		return nil
	}))
	return refs, err
}

// rawAXTree is the result of Accessibility.getFullAXTree, decoded leniently:
// cdproto's typed AX enums reject property names added by newer Chrome
// releases.
type rawAXTree struct {
	Nodes []rawAXNode `json:"nodes"`
}

type rawAXNode struct {
	Ignored          bool        `json:"ignored"`
	Role             *rawAXValue `json:"role,omitempty"`
	Name             *rawAXValue `json:"name,omitempty"`
	BackendDOMNodeID int64       `json:"backendDOMNodeId,omitempty"`
}

type rawAXValue struct {
	Value any `json:"value,omitempty"`
}

func (v *rawAXValue) String() string {
	if v == nil {
		return ""
	}
	s, _ := v.Value.(string)
	return s
}

func (t rawAXTree) axNodes() []axNode {
	out := make([]axNode, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		out = append(out, axNode{
			role:    n.Role.String(),
			name:    n.Name.String(),
			ignored: n.Ignored,
			backend: n.BackendDOMNodeID,
		})
	}
	return out
}

// callOnBackendNode resolves a DOM node and calls fn with the node as this,
// returning the string result.
func callOnBackendNode(ctx context.Context, id cdp.BackendNodeID, fn string) (string, error) {
	obj, err := dom.ResolveNode().WithBackendNodeID(id).Do(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

	res, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(obj.ObjectID).
		WithReturnByValue(true).
		Do(ctx)
	if err != nil {
		return "", err
	}
	if exc != nil {
		return "", exc
	}

	var ref string
	if len(res.Value) > 0 {
		if err := json.Unmarshal([]byte(res.Value), &ref); err != nil {
			return "", err
		}
	}
	return ref, nil
}

func (p *ChromePage) WaitFor(ctx context.Context, sel Selector, state State) error {
	_, err := p.resolve(ctx, sel, state)
	return err
}

func (p *ChromePage) Click(ctx context.Context, sel Selector) error {
	ref, err := p.resolve(ctx, sel, StateVisible)
	if err != nil {
		return err
	}
	if err := p.pause(ctx); err != nil {
		return err
	}
	if err := p.run(ctx, chromedp.Click(refSelector(ref), chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %s: %w", sel, err)
	}
	return nil
}

func (p *ChromePage) Fill(ctx context.Context, sel Selector, value string) error {
	ref, err := p.resolve(ctx, sel, StateVisible)
	if err != nil {
		return err
	}
	if err := p.pause(ctx); err != nil {
		return err
	}
	q := refSelector(ref)
	if err := p.run(ctx,
		chromedp.SetValue(q, "", chromedp.ByQuery),
		chromedp.SendKeys(q, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to fill %s: %w", sel, err)
	}
	return nil
}

var chromeKeys = map[Key]string{
	KeyEnter:      kb.Enter,
	KeyArrowRight: kb.ArrowRight,
	KeyEscape:     kb.Escape,
}

func (p *ChromePage) Press(ctx context.Context, key Key) error {
	k, ok := chromeKeys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	if err := p.pause(ctx); err != nil {
		return err
	}
	if err := p.run(ctx, chromedp.KeyEvent(k)); err != nil {
		return fmt.Errorf("failed to press %s: %w", key, err)
	}
	return nil
}

func (p *ChromePage) WaitLoad(ctx context.Context) error {
	expr, err := callJS(loadedJS)
	if err != nil {
		return err
	}
	_, err = poll(ctx, "load event", func(ctx context.Context) (string, error) {
		var loaded bool
		if err := p.run(ctx, chromedp.Evaluate(expr, &loaded)); err != nil {
			return "", err
		}
		if loaded {
			return "load", nil
		}
		return "", nil
	})
	return err
}

func (p *ChromePage) Elements(ctx context.Context, sel Selector) ([]Element, error) {
	var refs []string
	if sel.Role != "" {
		var err error
		if refs, err = p.roleRefs(ctx, sel, tagJS, false); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", sel, err)
		}
	} else {
		expr, err := callJS(tagAllJS, sel.CSS)
		if err != nil {
			return nil, err
		}
		if err := p.run(ctx, chromedp.Evaluate(expr, &refs)); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", sel, err)
		}
	}

	elems := make([]Element, 0, len(refs))
	for _, ref := range refs {
		elems = append(elems, &chromeElement{page: p, query: refSelector(ref)})
	}
	return elems, nil
}

func (p *ChromePage) WaitRequest(ctx context.Context, match func(Request) bool) error {
	listenCtx, cancel := p.bind(ctx)
	defer cancel()

	matched := make(chan struct{}, 1)
	// The listener is dropped by chromedp once listenCtx is cancelled.
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || e.Request == nil {
			return
		}
		if match(Request{URL: e.Request.URL, Method: e.Request.Method}) {
			select {
			case matched <- struct{}{}:
			default:
			}
		}
	})

	select {
	case <-matched:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for request: %w", ctx.Err())
	}
}

func (p *ChromePage) ScrollToBottom(ctx context.Context) error {
	return p.run(ctx, chromedp.Evaluate(scrollJS, nil))
}

// Close closes the tab and shuts the browser down.
func (p *ChromePage) Close() error {
	p.tabCancel()
	p.allocCancel()
	return nil
}

type chromeElement struct {
	page  *ChromePage
	query string
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.page.run(ctx, chromedp.TextContent(e.query, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", e.query, err)
	}
	return text, nil
}

func (e *chromeElement) Click(ctx context.Context) error {
	if err := e.page.pause(ctx); err != nil {
		return err
	}
	if err := e.page.run(ctx, chromedp.Click(e.query, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to click %s: %w", e.query, err)
	}
	return nil
}
