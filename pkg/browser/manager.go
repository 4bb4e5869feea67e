package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/autonext/pkg/logging"
)

const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 720
)

// Options configures a launched page.
type Options struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool

	// NavigationTimeout bounds the initial navigation
	NavigationTimeout time.Duration

	// Viewport sets the initial viewport size
	Viewport *Viewport
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Manager owns the Playwright driver and the pages it opened.
type Manager struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	targets     map[*Target]struct{}
	initialized bool
	logger      *logging.Logger
}

// NewManager creates a new manager.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		targets: make(map[*Target]struct{}),
		logger:  logger,
	}
}

// Initialize installs and starts Playwright.
// This must be called before opening any page.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Driver output would interleave with the log stream.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// Open launches a browser, attaches a Target to a new page and navigates
// it to url. An empty url leaves the page at about:blank.
func (m *Manager) Open(ctx context.Context, url string, opts Options) (*Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("browser manager not initialized")
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	pg, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	t, err := attach(pg, m.logger)
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, err
	}
	t.context = bctx
	t.browser = browser
	t.release = func() {
		m.mu.Lock()
		delete(m.targets, t)
		m.mu.Unlock()
	}

	if url != "" {
		timeout := float64(opts.NavigationTimeout.Milliseconds())
		waitUntil := playwright.WaitUntilState("domcontentloaded")
		if _, err := pg.Goto(url, playwright.PageGotoOptions{
			Timeout:   &timeout,
			WaitUntil: &waitUntil,
		}); err != nil {
			t.closeResources()
			return nil, fmt.Errorf("navigation failed: %w", err)
		}
		t.settle()
	}

	m.targets[t] = struct{}{}
	m.logger.Infof("opened page %s (headless=%t)", t.URL(), opts.Headless)
	return t, nil
}

// Targets returns the number of open pages.
func (m *Manager) Targets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

// Shutdown closes all pages and stops Playwright.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	targets := make([]*Target, 0, len(m.targets))
	for t := range m.targets {
		targets = append(targets, t)
	}
	m.targets = make(map[*Target]struct{})
	m.mu.Unlock()

	var errs []error
	for _, t := range targets {
		if err := t.closeResources(); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		m.initialized = false
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
