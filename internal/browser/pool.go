// Package browser provides the bounded headless-browser pool and the rod
// implementation of the portal driver contract.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/oklog/ulid/v2"

	"github.com/kebiao-app/timetable-server/internal/config"
)

var (
	// ErrPoolExhausted is returned when no browser frees up within the
	// acquire timeout.
	ErrPoolExhausted = errors.New("browser pool exhausted")
	// ErrPoolClosed is returned when trying to use a closed pool.
	ErrPoolClosed = errors.New("browser pool is closed")
)

// userAgent presented to the portal. The CAS login page blocks obvious
// headless agents.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

const clearStorageJS = `() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} }`

// ManagedBrowser wraps a rod.Browser with pool bookkeeping.
type ManagedBrowser struct {
	ID         string
	Browser    *rod.Browser
	InUse      bool
	CreatedAt  time.Time
	LastUsedAt time.Time
	UsageCount int
}

// Pool owns a fixed ceiling of browser instances. Browsers torn down for
// any reason are replaced, so capacity converges back to the ceiling
// instead of shrinking over the process lifetime.
type Pool struct {
	mu       sync.RWMutex
	browsers map[string]*ManagedBrowser
	waiting  []chan *ManagedBrowser
	cfg      *config.Config
	logger   *slog.Logger
	closed   bool

	chromePath string
	headless   bool

	// Ready state for async warmup
	ready     bool
	readyChan chan struct{}
}

// NewPool creates a browser pool with the configured ceiling.
func NewPool(cfg *config.Config, logger *slog.Logger) *Pool {
	return &Pool{
		browsers:   make(map[string]*ManagedBrowser),
		waiting:    make([]chan *ManagedBrowser, 0),
		cfg:        cfg,
		logger:     logger,
		chromePath: cfg.ChromePath,
		headless:   true,
		readyChan:  make(chan struct{}),
	}
}

// Ready returns true if the pool has completed warmup.
func (p *Pool) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

// WaitReady blocks until the pool is ready or context is cancelled.
func (p *Pool) WaitReady(ctx context.Context) error {
	select {
	case <-p.readyChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Warmup ensures Chromium is available and pre-creates browsers so the
// first captcha request does not pay the launch cost. Individual launch
// failures are logged and tolerated; Acquire retries lazily.
func (p *Pool) Warmup(ctx context.Context, preCreate int) error {
	p.logger.Info("warming up browser pool...")

	if p.chromePath != "" {
		p.logger.Info("using custom Chrome path", "path", p.chromePath)
	} else {
		browserPath, err := launcher.NewBrowser().Get()
		if err != nil {
			return err
		}
		p.logger.Info("Chromium ready", "path", browserPath)
	}

	if preCreate > p.cfg.BrowserPoolSize {
		preCreate = p.cfg.BrowserPoolSize
	}
	for i := 0; i < preCreate; i++ {
		browser, err := p.createBrowser(ctx)
		if err != nil {
			p.logger.Error("failed to pre-create browser", "error", err)
			break
		}
		browser.InUse = false
		p.mu.Lock()
		p.browsers[browser.ID] = browser
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.ready = true
	close(p.readyChan)
	count := len(p.browsers)
	p.mu.Unlock()

	p.logger.Info("browser pool warmed up", "browsers", count)
	return nil
}

// Acquire returns an exclusive browser. It prefers a warm idle instance,
// launches a fresh one when the pool is below its ceiling, and otherwise
// blocks until a release or the context deadline. A deadline while
// blocked is reported as ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*ManagedBrowser, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	for _, b := range p.browsers {
		if b.InUse {
			continue
		}
		if !p.isHealthy(b) {
			p.closeBrowser(b)
			delete(p.browsers, b.ID)
			continue
		}
		b.InUse = true
		b.LastUsedAt = time.Now()
		p.mu.Unlock()
		return b, nil
	}

	if len(p.browsers) < p.cfg.BrowserPoolSize {
		browser, err := p.createBrowser(ctx)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.browsers[browser.ID] = browser
		p.mu.Unlock()
		return browser, nil
	}

	waitChan := make(chan *ManagedBrowser, 1)
	p.waiting = append(p.waiting, waitChan)
	p.mu.Unlock()

	select {
	case browser, ok := <-waitChan:
		if !ok {
			return nil, ErrPoolClosed
		}
		return browser, nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, ch := range p.waiting {
			if ch == waitChan {
				p.waiting = append(p.waiting[:i], p.waiting[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		// A browser may have been handed over while we were timing out.
		select {
		case browser, ok := <-waitChan:
			if ok {
				return browser, nil
			}
		default:
		}
		return nil, ErrPoolExhausted
	}
}

// Release returns a browser to the pool after wiping its pages, cookies
// and web storage. Browsers past the usage cap are recycled instead of
// going back into rotation.
func (p *Pool) Release(browser *ManagedBrowser) {
	p.wipeBrowser(browser)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.closeBrowser(browser)
		return
	}

	browser.InUse = false
	browser.UsageCount++
	browser.LastUsedAt = time.Now()

	if browser.UsageCount >= p.cfg.BrowserMaxUsage {
		p.logger.Info("recycling browser",
			"id", browser.ID,
			"usage", browser.UsageCount,
			"age", time.Since(browser.CreatedAt))
		p.closeBrowser(browser)
		delete(p.browsers, browser.ID)
		p.replaceLocked()
		return
	}

	p.handoffLocked(browser)
}

// Discard destroys a browser that broke mid-flow or finished a scrape,
// then launches a replacement in the background so the pool converges
// back to its ceiling.
func (p *Pool) Discard(browser *ManagedBrowser) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeBrowser(browser)
	delete(p.browsers, browser.ID)

	if p.closed {
		return
	}
	p.logger.Info("browser discarded", "id", browser.ID, "usage", browser.UsageCount)
	p.replaceLocked()
}

// TrimIdle closes up to max idle browsers without replacing them.
// The memory watchdog uses it as a pressure valve; Acquire re-launches
// below the ceiling on demand.
func (p *Pool) TrimIdle(max int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || max <= 0 {
		return 0
	}

	trimmed := 0
	for id, b := range p.browsers {
		if trimmed >= max {
			break
		}
		if b.InUse {
			continue
		}
		p.closeBrowser(b)
		delete(p.browsers, id)
		trimmed++
	}
	if trimmed > 0 {
		p.logger.Info("trimmed idle browsers", "count", trimmed)
	}
	return trimmed
}

// Close shuts down all browsers and closes the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, browser := range p.browsers {
		p.closeBrowser(browser)
	}
	p.browsers = make(map[string]*ManagedBrowser)

	for _, ch := range p.waiting {
		close(ch)
	}
	p.waiting = nil
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{
		Total:   len(p.browsers),
		MaxSize: p.cfg.BrowserPoolSize,
		Waiting: len(p.waiting),
		Ready:   p.ready,
	}
	for _, b := range p.browsers {
		if b.InUse {
			stats.InUse++
		} else {
			stats.Available++
		}
	}
	return stats
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Total     int  `json:"total"`
	InUse     int  `json:"inUse"`
	Available int  `json:"available"`
	MaxSize   int  `json:"maxSize"`
	Waiting   int  `json:"waiting"`
	Ready     bool `json:"ready"`
}

// handoffLocked gives a free browser to the oldest waiter, if any.
// Callers hold p.mu.
func (p *Pool) handoffLocked(browser *ManagedBrowser) {
	if len(p.waiting) == 0 {
		return
	}
	waitChan := p.waiting[0]
	p.waiting = p.waiting[1:]
	browser.InUse = true
	browser.LastUsedAt = time.Now()
	waitChan <- browser
}

// replaceLocked launches a replacement browser in the background and
// hands it to a waiter when one is queued. Callers hold p.mu.
func (p *Pool) replaceLocked() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		newBrowser, err := p.createBrowser(ctx)
		if err != nil {
			p.logger.Error("failed to create replacement browser", "error", err)
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()

		if p.closed || len(p.browsers) >= p.cfg.BrowserPoolSize {
			p.closeBrowser(newBrowser)
			return
		}

		newBrowser.InUse = false
		p.browsers[newBrowser.ID] = newBrowser
		p.handoffLocked(newBrowser)
	}()
}

// createBrowser launches a headless Chromium tuned for the portal: the
// memory-lean flag set, a fixed desktop window, and the automation
// giveaways disabled.
func (p *Pool) createBrowser(ctx context.Context) (*ManagedBrowser, error) {
	l := launcher.New()

	if p.chromePath != "" {
		l = l.Bin(p.chromePath)
	}

	l = l.
		Headless(p.headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-infobars").
		Set("disable-extensions").
		Set("disable-notifications").
		Set("disable-accelerated-2d-canvas").
		Set("disable-background-networking").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding").
		Set("disable-client-side-phishing-detection").
		Set("disable-default-apps").
		Set("disable-hang-monitor").
		Set("disable-prompt-on-repost").
		Set("disable-sync").
		Set("disable-domain-reliability").
		Set("disable-breakpad").
		Set("disable-site-isolation-trials").
		Set("metrics-recording-only").
		Set("no-first-run").
		Set("password-store", "basic").
		Set("use-mock-keychain").
		Set("js-flags", "--max_old_space_size=256").
		Set("window-size", "1200,800").
		Set("lang", "zh-CN,zh").
		Set("user-agent", userAgent)

	u, err := l.Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	p.logger.Info("browser created", "id", id)

	return &ManagedBrowser{
		ID:         id,
		Browser:    browser,
		InUse:      true,
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
	}, nil
}

// isHealthy pings the browser. Callers hold p.mu.
func (p *Pool) isHealthy(b *ManagedBrowser) bool {
	defer func() {
		recover()
	}()
	_, err := b.Browser.Pages()
	return err == nil
}

// wipeBrowser clears everything a login session left behind: web storage
// on each open page, the pages themselves, and all cookies.
func (p *Pool) wipeBrowser(b *ManagedBrowser) {
	pages, err := b.Browser.Pages()
	if err != nil {
		p.logger.Warn("wipe: listing pages failed", "id", b.ID, "error", err)
		return
	}
	for _, page := range pages {
		if _, err := page.Eval(clearStorageJS); err != nil {
			p.logger.Debug("wipe: storage clear failed", "id", b.ID, "error", err)
		}
		if err := page.Close(); err != nil {
			p.logger.Debug("wipe: page close failed", "id", b.ID, "error", err)
		}
	}
	if err := b.Browser.SetCookies(nil); err != nil {
		p.logger.Warn("wipe: cookie clear failed", "id", b.ID, "error", err)
	}
}

// closeBrowser safely closes a browser.
func (p *Pool) closeBrowser(b *ManagedBrowser) {
	if b.Browser != nil {
		if err := b.Browser.Close(); err != nil {
			p.logger.Warn("error closing browser", "id", b.ID, "error", err)
		}
	}
	p.logger.Info("browser closed", "id", b.ID)
}
