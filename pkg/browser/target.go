package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/autonext/pkg/browser/bridge"
	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/page"
)

// Target is a Playwright page seen as a page.Target.
type Target struct {
	page     playwright.Page
	context  playwright.BrowserContext
	browser  playwright.Browser
	registry *bridge.Registry
	logger   *logging.Logger
	release  func()

	navs      chan string
	navsOnce  sync.Once
	closeOnce sync.Once
}

var _ page.Target = (*Target)(nil)

// Attach wraps an existing page. The caller keeps ownership of the page's
// browser and context.
func Attach(pg playwright.Page, logger *logging.Logger) (*Target, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	return attach(pg, logger)
}

func attach(pg playwright.Page, logger *logging.Logger) (*Target, error) {
	t := &Target{
		page:     pg,
		registry: bridge.NewRegistry(),
		logger:   logger.Named("playwright"),
		navs:     make(chan string, 16),
	}

	err := pg.ExposeFunction(bridge.BindingName, func(args ...interface{}) interface{} {
		if len(args) == 0 {
			return nil
		}
		data, ok := args[0].(string)
		if !ok {
			t.logger.Warnf("mutation binding called with %T", args[0])
			return nil
		}
		if _, err := t.registry.Deliver(data); err != nil {
			t.logger.Warnf("dropping mutation batch: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expose mutation binding: %w", err)
	}

	pg.OnFrameNavigated(func(f playwright.Frame) {
		if f != pg.MainFrame() {
			return
		}
		select {
		case t.navs <- f.URL():
		default:
			t.logger.Warnf("navigation to %s dropped, consumer is behind", f.URL())
		}
	})
	pg.OnClose(func(playwright.Page) {
		t.closeNavigations()
	})
	return t, nil
}

// settle drops navigation events produced by the initial load.
func (t *Target) settle() {
	for {
		select {
		case <-t.navs:
		default:
			return
		}
	}
}

func (t *Target) closeNavigations() {
	t.navsOnce.Do(func() { close(t.navs) })
}

// URL implements page.Target.
func (t *Target) URL() string {
	return t.page.URL()
}

// Navigations implements page.Target.
func (t *Target) Navigations() <-chan string {
	return t.navs
}

// Page returns the underlying Playwright page.
func (t *Target) Page() playwright.Page {
	return t.page
}

// Navigate loads url in the page.
func (t *Target) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.page.Goto(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Close closes the page and, when the Target launched them, its context
// and browser.
func (t *Target) Close() error {
	if t.release != nil {
		t.release()
	}
	return t.closeResources()
}

func (t *Target) closeResources() error {
	var err error
	t.closeOnce.Do(func() {
		// Ignore page and context errors, the browser close is what matters.
		_ = t.page.Close()
		if t.context != nil {
			_ = t.context.Close()
		}
		if t.browser != nil {
			err = t.browser.Close()
		}
		t.closeNavigations()
	})
	return err
}

// QuerySelectorAll implements page.Document.
func (t *Target) QuerySelectorAll(ctx context.Context, selector string) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handles, err := t.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	out := make([]page.Element, len(handles))
	for i, h := range handles {
		out[i] = &Element{handle: h}
	}
	return out, nil
}

// QuerySelector implements page.Document.
func (t *Target) QuerySelector(ctx context.Context, selector string) (page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := t.page.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	if h == nil {
		return nil, nil
	}
	return &Element{handle: h}, nil
}

// FindByText implements page.Document.
func (t *Target) FindByText(ctx context.Context, text string) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list, err := t.page.EvaluateHandle(bridge.FindByTextJS, text)
	if err != nil {
		return nil, fmt.Errorf("text scan failed: %w", err)
	}
	defer list.Dispose()

	props, err := list.GetProperties()
	if err != nil {
		return nil, fmt.Errorf("text scan failed: %w", err)
	}
	var out []page.Element
	for i := 0; ; i++ {
		prop, ok := props[strconv.Itoa(i)]
		if !ok {
			break
		}
		if el := prop.AsElement(); el != nil {
			out = append(out, &Element{handle: el})
		}
	}
	return out, nil
}

// ObserveMutations implements page.MutationSource.
func (t *Target) ObserveMutations(ctx context.Context, opts page.ObserveOptions, fn func([]page.MutationRecord)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := t.registry.Add(fn)
	ok, err := t.page.Evaluate(bridge.ObserveJS, bridge.ObserveArgs(id, opts))
	if err != nil {
		t.registry.Remove(id)
		return nil, fmt.Errorf("failed to install observer: %w", err)
	}
	if installed, _ := ok.(bool); !installed {
		t.registry.Remove(id)
		return nil, fmt.Errorf("observer root %q not found", opts.Root)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.registry.Remove(id)
			// The page may already be gone.
			_, _ = t.page.Evaluate(bridge.DisconnectJS, id)
		})
	}, nil
}
