package portal

import (
	"context"
	"time"

	"github.com/ysmood/gson"
)

// By is an element location strategy.
type By string

const (
	ByID          By = "id"
	ByClass       By = "class"
	ByCSS         By = "css"
	ByXPath       By = "xpath"
	ByPartialText By = "partial-text"
)

// Selector pairs a location strategy with its value.
type Selector struct {
	By    By
	Value string
}

func (s Selector) String() string { return string(s.By) + "=" + s.Value }

// ID selects an element by its id attribute.
func ID(v string) Selector { return Selector{By: ByID, Value: v} }

// Class selects an element by a CSS class name.
func Class(v string) Selector { return Selector{By: ByClass, Value: v} }

// CSS selects an element by a CSS selector expression.
func CSS(v string) Selector { return Selector{By: ByCSS, Value: v} }

// XPath selects an element by an XPath expression.
func XPath(v string) Selector { return Selector{By: ByXPath, Value: v} }

// PartialText selects an anchor by a substring of its visible text.
func PartialText(v string) Selector { return Selector{By: ByPartialText, Value: v} }

// Element is a located page element.
type Element interface {
	// Attribute returns the value of the named attribute, empty when absent.
	Attribute(name string) (string, error)
	// Fill clears the element and types text into it.
	Fill(text string) error
	// Click performs a left click.
	Click() error
	// Text returns the element's visible text.
	Text() (string, error)
}

// Driver is the browser capability the portal flows run against.
// internal/browser implements it on a rod page; tests use a fake.
type Driver interface {
	// Navigate loads a URL in the current window.
	Navigate(ctx context.Context, url string) error

	// WaitElement waits up to timeout for the selector to resolve.
	// Timeouts are wrapped with ErrElementWaitTimeout.
	WaitElement(ctx context.Context, sel Selector, timeout time.Duration) (Element, error)

	// CurrentURL returns the current window's URL.
	CurrentURL() (string, error)

	// PageHTML returns the full rendered markup of the current window.
	PageHTML() (string, error)

	// WaitURL polls the current URL until pred accepts it or timeout
	// elapses, in which case the error wraps ErrElementWaitTimeout.
	WaitURL(ctx context.Context, timeout time.Duration, pred func(url string) bool) error

	// SwitchToWindow finds the window whose URL contains urlSubstring,
	// waiting up to timeout for it to appear, and makes it current.
	SwitchToWindow(ctx context.Context, urlSubstring string, timeout time.Duration) error

	// AcceptAlert reports and clears the most recent auto-dismissed
	// dialog. present is false when none appeared since the last call.
	AcceptAlert() (text string, present bool, err error)

	// Eval runs a script in the current window and returns its result.
	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)

	// SetSelection drives one of the portal's combo controls: set the
	// value, set the display text, fire its change event. Failures are
	// reported as *SelectionError.
	SetSelection(ctx context.Context, controlID, value, label string) error
}
