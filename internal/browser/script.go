package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// pollInterval is how often drivers re-check a condition while waiting.
const pollInterval = 100 * time.Millisecond

// refAttr is stamped on elements found by a lookup so that drivers can
// address them afterwards with a plain CSS query.
const refAttr = "data-instaflow-ref"

// refSelector returns the CSS query for an element tagged with ref.
func refSelector(ref string) string {
	return fmt.Sprintf(`[%s="%s"]`, refAttr, ref)
}

// domLib holds the helpers shared by the scripts below.
const domLib = `
	const visible = el => {
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
	};
	const tag = el => {
		let ref = el.getAttribute('` + refAttr + `');
		if (!ref) {
			window.__instaflowRef = (window.__instaflowRef || 0) + 1;
			ref = String(window.__instaflowRef);
			el.setAttribute('` + refAttr + `', ref);
		}
		return ref;
	};
`

// findJS returns a non-empty string once the wanted state holds for a CSS
// query: the ref of the first visible match for "visible", or "hidden" when
// nothing matching is visible. It returns "" while the condition does not
// hold yet.
const findJS = `function(css, state) {` + domLib + `
	const shown = Array.from(document.querySelectorAll(css)).filter(visible);
	if (state === 'hidden') return shown.length === 0 ? 'hidden' : '';
	if (shown.length === 0) return '';
	return tag(shown[0]);
}`

// tagAllJS tags every match of a CSS query in document order and returns
// the refs.
const tagAllJS = `function(css) {` + domLib + `
	return Array.from(document.querySelectorAll(css)).map(tag);
}`

// tagVisibleJS is called on a resolved node: it returns the node's ref when
// it is visible and "" otherwise.
const tagVisibleJS = `function() {` + domLib + `
	return visible(this) ? tag(this) : '';
}`

// tagJS is called on a resolved node and returns its ref.
const tagJS = `function() {` + domLib + `
	return tag(this);
}`

// scrollJS scrolls the window to the bottom of the document.
const scrollJS = `window.scrollTo(0, document.body.scrollHeight)`

// loadedJS reports whether the document load event has fired.
const loadedJS = `function() { return document.readyState === 'complete'; }`

// slowDown waits d before an input action, returning early with the context
// error when ctx is done first.
func slowDown(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// poll calls check every pollInterval until it yields a non-empty result or
// ctx is done. Check errors are retried: they are usually a navigation
// tearing down the execution context mid-evaluation.
func poll(ctx context.Context, what string, check func(ctx context.Context) (string, error)) (string, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		res, err := check(ctx)
		if err == nil && res != "" {
			return res, nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return "", fmt.Errorf("waiting for %s: %w (last error: %v)", what, ctx.Err(), lastErr)
			}
			return "", fmt.Errorf("waiting for %s: %w", what, ctx.Err())
		case <-ticker.C:
		}
	}
}

// callJS renders a call of fn with JSON-encoded args as a single expression.
func callJS(fn string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", err
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", ")), nil
}
