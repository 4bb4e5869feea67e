package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/autonext/pkg/activate"
	"github.com/entrhq/autonext/pkg/detect"
	"github.com/entrhq/autonext/pkg/loop"
	"github.com/entrhq/autonext/pkg/page/htmldoc"
)

var errNotComplete = errors.New("no completion marker found")

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check page.html",
		Short: "Run one detection pass on a saved page",
		Long: `Runs every detection strategy against a saved HTML page and prints which
ones matched, then reports the navigation control the page would be
advanced with. Nothing is activated. Exits with status 1 when the unit is
not complete.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.cfg.SessionOptions()
			if err != nil {
				return err
			}
			doc, err := htmldoc.LoadFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			match, trace, ok := detect.New(a.logger, opts.Strategies...).DetectTrace(ctx, doc)
			if err := trace.Format(out); err != nil {
				return err
			}
			fmt.Fprintln(out)
			if ok {
				fmt.Fprintf(out, "complete: %s matched %s\n", match.Strategy, match.Element)
			} else {
				fmt.Fprintln(out, "not complete")
			}

			// The dispatcher is only used to locate; nothing is scheduled.
			d := activate.New(loop.NewManual(time.Now()), a.logger, opts.Activation)
			el, locator, err := d.Locate(ctx, doc)
			switch {
			case err != nil:
				fmt.Fprintf(out, "control: none (%v)\n", err)
			default:
				eligible, eerr := activate.Eligible(el)
				state := "eligible"
				if eerr != nil {
					state = eerr.Error()
				} else if !eligible {
					state = "hidden or disabled"
				}
				fmt.Fprintf(out, "control: %s via %s (%s)\n", el, locator.Name, state)
			}

			if !ok {
				return errNotComplete
			}
			return nil
		},
	}
}
