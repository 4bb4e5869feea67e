// Package rodpage attaches the watcher to a Chromium page over the DevTools
// protocol with go-rod. It can launch its own browser or connect to one
// already running with remote debugging enabled, which lets the watcher
// follow a page the user is logged into.
package rodpage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/entrhq/autonext/pkg/browser/bridge"
	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/page"
)

// DefaultNavigationTimeout bounds the initial navigation.
const DefaultNavigationTimeout = 30 * time.Second

// Options configures how the browser is reached.
type Options struct {
	// ControlURL is the DevTools websocket of a running browser. Empty
	// launches a new one.
	ControlURL string

	// Headless applies to launched browsers only.
	Headless bool

	// NavigationTimeout bounds the initial navigation.
	NavigationTimeout time.Duration
}

// Target is a rod page seen as a page.Target.
type Target struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	registry *bridge.Registry
	logger   *logging.Logger

	cancel context.CancelFunc
	events chan struct{}

	navs      chan string
	navsOnce  sync.Once
	closeOnce sync.Once
}

var _ page.Target = (*Target)(nil)

// Open reaches a browser per opts, opens a page and navigates it to url.
func Open(ctx context.Context, url string, opts Options, logger *logging.Logger) (*Target, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}

	var l *launcher.Launcher
	controlURL := opts.ControlURL
	if controlURL == "" {
		l = launcher.New().Headless(opts.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	pg, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		closeBrowser(browser, l)
		return nil, fmt.Errorf("create page: %w", err)
	}

	t, err := attach(browser, pg, l, logger)
	if err != nil {
		_ = pg.Close()
		closeBrowser(browser, l)
		return nil, err
	}

	if url != "" {
		nav := pg.Context(ctx).Timeout(opts.NavigationTimeout)
		if err := nav.Navigate(url); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("navigation failed: %w", err)
		}
		if err := nav.WaitLoad(); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("wait for load: %w", err)
		}
		t.settle()
	}

	t.logger.Infof("opened page %s (connected=%t)", t.URL(), opts.ControlURL != "")
	return t, nil
}

func closeBrowser(b *rod.Browser, l *launcher.Launcher) {
	// Only browsers we launched are ours to close.
	if l == nil {
		return
	}
	_ = b.Close()
	l.Cleanup()
}

func attach(browser *rod.Browser, pg *rod.Page, l *launcher.Launcher, logger *logging.Logger) (*Target, error) {
	if err := (proto.RuntimeAddBinding{Name: bridge.BindingName}).Call(pg); err != nil {
		return nil, fmt.Errorf("failed to add mutation binding: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Target{
		browser:  browser,
		page:     pg,
		launcher: l,
		registry: bridge.NewRegistry(),
		logger:   logger.Named("rod"),
		cancel:   cancel,
		events:   make(chan struct{}),
		navs:     make(chan string, 16),
	}

	wait := pg.Context(ctx).EachEvent(
		func(ev *proto.RuntimeBindingCalled) {
			if ev.Name != bridge.BindingName {
				return
			}
			if _, err := t.registry.Deliver(ev.Payload); err != nil {
				t.logger.Warnf("dropping mutation batch: %v", err)
			}
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame.ParentID != "" {
				return
			}
			t.navigated(ev.Frame.URL)
		},
		func(ev *proto.PageNavigatedWithinDocument) {
			if ev.FrameID != pg.FrameID {
				return
			}
			t.navigated(ev.URL)
		},
	)
	go func() {
		defer close(t.events)
		defer t.closeNavigations()
		wait()
	}()
	return t, nil
}

func (t *Target) navigated(url string) {
	select {
	case t.navs <- url:
	default:
		t.logger.Warnf("navigation to %s dropped, consumer is behind", url)
	}
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
	info, err := t.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Navigations implements page.Target.
func (t *Target) Navigations() <-chan string {
	return t.navs
}

// Page returns the underlying rod page.
func (t *Target) Page() *rod.Page {
	return t.page
}

// Close stops the event pump and closes the page. A launched browser is
// closed too; a connected one is left running.
func (t *Target) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		<-t.events
		err = t.page.Close()
		closeBrowser(t.browser, t.launcher)
	})
	return err
}

// QuerySelectorAll implements page.Document.
func (t *Target) QuerySelectorAll(ctx context.Context, selector string) ([]page.Element, error) {
	els, err := t.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	return wrap(els), nil
}

// QuerySelector implements page.Document.
func (t *Target) QuerySelector(ctx context.Context, selector string) (page.Element, error) {
	has, el, err := t.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	if !has {
		return nil, nil
	}
	return &Element{el: el}, nil
}

// FindByText implements page.Document.
func (t *Target) FindByText(ctx context.Context, text string) ([]page.Element, error) {
	els, err := t.page.Context(ctx).ElementsByJS(rod.Eval(bridge.FindByTextJS, text))
	if err != nil {
		return nil, fmt.Errorf("text scan failed: %w", err)
	}
	return wrap(els), nil
}

// ObserveMutations implements page.MutationSource.
func (t *Target) ObserveMutations(ctx context.Context, opts page.ObserveOptions, fn func([]page.MutationRecord)) (func(), error) {
	id := t.registry.Add(fn)
	res, err := t.page.Context(ctx).Evaluate(rod.Eval(bridge.ObserveJS, bridge.ObserveArgs(id, opts)))
	if err != nil {
		t.registry.Remove(id)
		return nil, fmt.Errorf("failed to install observer: %w", err)
	}
	if !res.Value.Bool() {
		t.registry.Remove(id)
		return nil, fmt.Errorf("observer root %q not found", opts.Root)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.registry.Remove(id)
			// The page may already be gone.
			_, _ = t.page.Evaluate(rod.Eval(bridge.DisconnectJS, id))
		})
	}, nil
}

func wrap(els rod.Elements) []page.Element {
	out := make([]page.Element, len(els))
	for i, el := range els {
		out[i] = &Element{el: el}
	}
	return out
}

// Element is a rod element seen as a page.Element.
type Element struct {
	el *rod.Element
}

var _ page.Element = (*Element)(nil)

func (e *Element) eval(js string, arg ...interface{}) (*proto.RuntimeRemoteObject, error) {
	res, err := e.el.Eval(bridge.Method(js), arg...)
	if err != nil {
		return nil, fmt.Errorf("evaluate on %s: %w", e, err)
	}
	return res, nil
}

// Attribute implements page.Element.
func (e *Element) Attribute(name string) (string, bool, error) {
	res, err := e.eval(bridge.AttributeJS, name)
	if err != nil {
		return "", false, err
	}
	if res.Value.Nil() {
		return "", false, nil
	}
	return res.Value.Str(), true, nil
}

// TextContent implements page.Element.
func (e *Element) TextContent() (string, error) {
	res, err := e.eval(bridge.TextContentJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// ComputedStyle implements page.Element.
func (e *Element) ComputedStyle(property string) (string, error) {
	res, err := e.eval(bridge.ComputedStyleJS, property)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// IsDisabled implements page.Element.
func (e *Element) IsDisabled() (bool, error) {
	res, err := e.eval(bridge.DisabledJS)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// Closest implements page.Element.
func (e *Element) Closest(selector string) (page.Element, error) {
	el, err := e.el.Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(bridge.Method(bridge.ClosestJS), selector))
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("closest %q on %s: %w", selector, e, err)
	}
	return &Element{el: el}, nil
}

// HasHandler implements page.Element.
func (e *Element) HasHandler(kind page.HandlerKind) (bool, error) {
	res, err := e.eval(bridge.HasHandlerJS, kind.String())
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// InvokeHandler implements page.Element.
func (e *Element) InvokeHandler(kind page.HandlerKind) error {
	_, err := e.eval(bridge.InvokeHandlerJS, kind.String())
	return err
}

// DispatchEvent implements page.Element.
func (e *Element) DispatchEvent(ev page.Event) error {
	_, err := e.eval(bridge.DispatchEventJS, bridge.EventArgs(ev))
	return err
}

func (e *Element) String() string {
	res, err := e.el.Eval(bridge.Method(bridge.DescribeJS))
	if err != nil {
		return "<detached>"
	}
	return res.Value.Str()
}
