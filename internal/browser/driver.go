package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/kebiao-app/timetable-server/internal/portal"
)

const urlPollInterval = 200 * time.Millisecond

const setSelectionJS = `(id, value, label) => {
	var control = mini.get(id);
	control.setValue(value);
	control.setText(label);
	control.fire('valuechanged');
}`

// PageDriver implements portal.Driver on a rod page. One driver belongs to
// one session flow at a time; the portal opens the timetable in a second
// window, so the driver tracks which page is current.
type PageDriver struct {
	browser *rod.Browser
	logger  *slog.Logger

	mu        sync.Mutex
	page      *rod.Page
	pumped    map[proto.TargetTargetID]bool
	alertText string
	alertSeen bool
}

// NewDriver opens a fresh stealth page on the browser and starts the
// dialog pump that auto-accepts any JavaScript alert the portal raises.
func NewDriver(mb *ManagedBrowser, logger *slog.Logger) (*PageDriver, error) {
	page, err := CreateStealthPage(mb.Browser)
	if err != nil {
		return nil, err
	}
	d := &PageDriver{
		browser: mb.Browser,
		logger:  logger,
		page:    page,
		pumped:  make(map[proto.TargetTargetID]bool),
	}
	d.startDialogPump(page)
	return d, nil
}

// startDialogPump auto-accepts dialogs on the page and records the last
// dialog text for AcceptAlert. Alerts must never block a flow: the portal
// raises one when a selected week has no published table.
func (d *PageDriver) startDialogPump(page *rod.Page) {
	d.mu.Lock()
	if d.pumped[page.TargetID] {
		d.mu.Unlock()
		return
	}
	d.pumped[page.TargetID] = true
	d.mu.Unlock()

	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		if err := (proto.PageHandleJavaScriptDialog{Accept: true}).Call(page); err != nil {
			d.logger.Debug("dialog accept failed", "error", err)
		}
		d.mu.Lock()
		d.alertText = e.Message
		d.alertSeen = true
		d.mu.Unlock()
	})()
}

func (d *PageDriver) currentPage() *rod.Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page
}

// Navigate loads the URL and waits for the page load event.
func (d *PageDriver) Navigate(ctx context.Context, url string) error {
	page := d.currentPage().Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

// WaitElement resolves a selector, waiting up to timeout for the element
// to appear.
func (d *PageDriver) WaitElement(ctx context.Context, sel portal.Selector, timeout time.Duration) (portal.Element, error) {
	page := d.currentPage().Context(ctx).Timeout(timeout)

	var el *rod.Element
	var err error
	switch sel.By {
	case portal.ByID:
		el, err = page.Element("#" + sel.Value)
	case portal.ByClass:
		el, err = page.Element("." + sel.Value)
	case portal.ByCSS:
		el, err = page.Element(sel.Value)
	case portal.ByXPath:
		el, err = page.ElementX(sel.Value)
	case portal.ByPartialText:
		el, err = page.ElementR("a", sel.Value)
	default:
		return nil, fmt.Errorf("unsupported selector strategy %q", sel.By)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", portal.ErrElementWaitTimeout, sel, err)
	}
	return &pageElement{el: el.CancelTimeout()}, nil
}

// CurrentURL returns the current window's URL.
func (d *PageDriver) CurrentURL() (string, error) {
	info, err := d.currentPage().Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// PageHTML returns the full rendered markup of the current window.
func (d *PageDriver) PageHTML() (string, error) {
	return d.currentPage().HTML()
}

// WaitURL polls the current URL until pred accepts it or timeout elapses.
func (d *PageDriver) WaitURL(ctx context.Context, timeout time.Duration, pred func(url string) bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if info, err := d.currentPage().Info(); err == nil && pred(info.URL) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: url predicate", portal.ErrElementWaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(urlPollInterval):
		}
	}
}

// SwitchToWindow makes the window whose URL contains urlSubstring current,
// waiting up to timeout for it to open.
func (d *PageDriver) SwitchToWindow(ctx context.Context, urlSubstring string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pages, err := d.browser.Pages()
		if err == nil {
			for _, page := range pages {
				info, infoErr := page.Info()
				if infoErr != nil || !strings.Contains(info.URL, urlSubstring) {
					continue
				}
				if _, err := page.Activate(); err != nil {
					d.logger.Debug("window activate failed", "error", err)
				}
				d.mu.Lock()
				d.page = page
				d.mu.Unlock()
				d.startDialogPump(page)
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: window containing %q", portal.ErrElementWaitTimeout, urlSubstring)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(urlPollInterval):
		}
	}
}

// AcceptAlert reports and clears the most recent auto-accepted dialog.
func (d *PageDriver) AcceptAlert() (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.alertSeen {
		return "", false, nil
	}
	text := d.alertText
	d.alertSeen = false
	d.alertText = ""
	return text, true, nil
}

// Eval runs a script in the current window.
func (d *PageDriver) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	res, err := d.currentPage().Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

// SetSelection drives one of the portal's mini-UI combo controls.
func (d *PageDriver) SetSelection(ctx context.Context, controlID, value, label string) error {
	if _, err := d.currentPage().Context(ctx).Eval(setSelectionJS, controlID, value, label); err != nil {
		return &portal.SelectionError{Control: controlID, Cause: err}
	}
	return nil
}

// pageElement adapts a rod element to the portal element contract.
type pageElement struct {
	el *rod.Element
}

func (e *pageElement) Attribute(name string) (string, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// Fill selects any existing content and types over it.
func (e *pageElement) Fill(text string) error {
	if err := e.el.SelectAllText(); err != nil {
		return err
	}
	return e.el.Input(text)
}

func (e *pageElement) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *pageElement) Text() (string, error) {
	return e.el.Text()
}
