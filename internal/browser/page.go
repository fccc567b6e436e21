package browser

import (
	"context"
	"fmt"
)

// State is the element condition a wait resolves on.
type State string

const (
	StateVisible State = "visible"
	StateHidden  State = "hidden"
)

// Key names a keyboard key understood by every driver.
type Key string

const (
	KeyEnter      Key = "Enter"
	KeyArrowRight Key = "ArrowRight"
	KeyEscape     Key = "Escape"
)

// Selector locates elements either by CSS or by accessible role and name.
// Exactly one of CSS or Role is set.
type Selector struct {
	CSS  string
	Role string
	// Name is matched as a case-insensitive substring of the element's
	// whitespace-normalized accessible name. Empty matches any name.
	Name string
}

// CSS returns a selector matching the CSS query.
func CSS(query string) Selector {
	return Selector{CSS: query}
}

// Role returns a selector matching elements with the given ARIA role whose
// accessible name contains name.
func Role(role, name string) Selector {
	return Selector{Role: role, Name: name}
}

func (s Selector) String() string {
	if s.CSS != "" {
		return s.CSS
	}
	return fmt.Sprintf("role=%s[name=%q]", s.Role, s.Name)
}

// Request is an outgoing network request observed by WaitRequest.
type Request struct {
	URL    string
	Method string
}

// Page is the driver contract the automation sequence is written against.
// Every blocking call waits until its condition holds or ctx is done; the
// caller bounds each call with the context deadline.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until an element matching sel is visible, or until no
	// matching element is visible when state is StateHidden.
	WaitFor(ctx context.Context, sel Selector, state State) error
	// Click waits for the first visible match and clicks it.
	Click(ctx context.Context, sel Selector) error
	// Fill waits for the first visible match, clears it and types value.
	Fill(ctx context.Context, sel Selector, value string) error
	Press(ctx context.Context, key Key) error
	// WaitLoad blocks until the document has fired its load event.
	WaitLoad(ctx context.Context) error
	// Elements returns every element currently matching sel in document
	// order. It does not wait.
	Elements(ctx context.Context, sel Selector) ([]Element, error)
	// WaitRequest blocks until an outgoing request satisfies match.
	WaitRequest(ctx context.Context, match func(Request) bool) error
	ScrollToBottom(ctx context.Context) error
	Close() error
}

// Element is a handle to a single element returned by Page.Elements.
type Element interface {
	Text(ctx context.Context) (string, error)
	Click(ctx context.Context) error
}

// Open launches a browser with the configured driver and returns its page.
func Open(ctx context.Context, o Options) (Page, error) {
	switch o.Driver {
	case "", DriverChromedp:
		return NewChromePage(ctx, o)
	case DriverRod:
		return NewRodPage(ctx, o)
	default:
		return nil, fmt.Errorf("unknown browser driver %q", o.Driver)
	}
}
