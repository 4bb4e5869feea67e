package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/autonext/pkg/browser"
	"github.com/entrhq/autonext/pkg/browser/rodpage"
	"github.com/entrhq/autonext/pkg/config"
	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/page"
	"github.com/entrhq/autonext/pkg/page/htmldoc"
	"github.com/entrhq/autonext/pkg/session"
	"github.com/entrhq/autonext/pkg/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "watch [url]",
		Short: "Watch a course page and advance completed units",
		Long: `Opens url in a browser (or attaches to a running one with --control-url)
and keeps a session on every page load that matches the configured patterns.
Without a url the browser starts blank and sessions begin once you navigate
to a matching page.

With --file, a local HTML file is watched instead; saving the file replays
the new content as page mutations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.cfg.SessionOptions()
			if err != nil {
				return err
			}
			if file != "" {
				return watchFile(cmd.Context(), file, opts, a.logger)
			}
			var url string
			if len(args) == 1 {
				url = args[0]
			}
			return watchBrowser(cmd.Context(), url, a.cfg, opts, a.logger)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "watch a local HTML file instead of a browser page")
	cmd.Flags().String("driver", "playwright", "browser driver: playwright or rod")
	cmd.Flags().Bool("headless", false, "run the launched browser without a window")
	cmd.Flags().String("control-url", "", "DevTools websocket of a running browser (rod only)")
	cmd.Flags().String("policy", "pause-resume", "polling policy: pause-resume or bounded")
	cmd.Flags().Int("max-ticks", 0, "poll limit for the bounded policy")
	cmd.Flags().StringSlice("match", nil, "URL glob patterns to attach to")
	return cmd
}

func watchFile(ctx context.Context, path string, opts session.Options, logger *logging.Logger) error {
	doc, err := htmldoc.LoadFile(path)
	if err != nil {
		return err
	}
	// A local file is always watched, whatever the configured patterns.
	matcher, err := watch.NewMatcher("file://*")
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return htmldoc.WatchFile(gctx, path, doc, func(err error) {
			logger.Warnf("%v", err)
		})
	})
	g.Go(func() error {
		return watch.NewRunner(doc, matcher, logger, opts).Run(gctx)
	})
	return g.Wait()
}

func watchBrowser(ctx context.Context, url string, cfg *config.Config, opts session.Options, logger *logging.Logger) error {
	matcher, err := watch.NewMatcher(cfg.Match...)
	if err != nil {
		return err
	}

	var target page.Target
	switch cfg.Browser.Driver {
	case "rod":
		t, err := rodpage.Open(ctx, url, rodpage.Options{
			ControlURL:        cfg.Browser.ControlURL,
			Headless:          cfg.Browser.Headless,
			NavigationTimeout: cfg.Browser.NavigationTimeout(),
		}, logger)
		if err != nil {
			return err
		}
		defer t.Close()
		target = t

	case "playwright":
		m := browser.NewManager(logger)
		if err := m.Initialize(); err != nil {
			return err
		}
		defer func() {
			if err := m.Shutdown(); err != nil {
				logger.Warnf("browser shutdown: %v", err)
			}
		}()
		t, err := m.Open(ctx, url, browser.Options{
			Headless:          cfg.Browser.Headless,
			NavigationTimeout: cfg.Browser.NavigationTimeout(),
		})
		if err != nil {
			return err
		}
		target = t

	default:
		return fmt.Errorf("unknown driver %q", cfg.Browser.Driver)
	}

	return watch.NewRunner(target, matcher, logger, opts).Run(ctx)
}
