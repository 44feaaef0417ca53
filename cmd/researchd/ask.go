package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/fundscope/researchd/client"
	"github.com/fundscope/researchd/models"
)

func askCMD() *cobra.Command {
	var serverURL string
	var model string
	var outDir string
	var timeout time.Duration
	var plain bool

	var ask = &cobra.Command{
		Use:   "ask \"research question\"",
		Short: "Run a research query and stream the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			// A zero timeout leaves the run unbounded; a stream that ends
			// without a terminal event then waits on the server forever.
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			c := client.New(serverURL)
			sess, err := c.Start(ctx, args[0], model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s\n", sess.ID)

			stream, err := c.Stream(ctx, sess.ID)
			if err != nil {
				return err
			}
			defer stream.Close()

			tracker := client.NewTracker()
			tracker.Begin()
			if err := consume(cmd.OutOrStdout(), stream, tracker); err != nil {
				tracker.Fail(err.Error())
			}

			switch tracker.State() {
			case client.StateFailed:
				return fmt.Errorf("research failed: %s", tracker.Err())
			case client.StateResearching:
				// Stream ended without complete/error. Accepted server
				// behavior; report whatever accumulated.
				fmt.Fprintln(cmd.OutOrStdout(), "stream ended without a terminal event")
			}

			report := tracker.Report()
			if report == "" {
				return errors.New("no report produced")
			}
			if err := render(cmd.OutOrStdout(), report, plain); err != nil {
				return err
			}
			if outDir != "" {
				sess.Report = report
				path, err := c.SaveReport(sess, outDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nsaved to %s\n", path)
			}
			return nil
		},
	}
	ask.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "research server base URL")
	ask.Flags().StringVar(&model, "model", "", "model to research with (server default if empty)")
	ask.Flags().StringVar(&outDir, "out", "", "directory to save the report into")
	ask.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this duration (0 = no limit)")
	ask.Flags().BoolVar(&plain, "plain", false, "print raw markdown instead of rendering")

	return ask
}

// consume drains the stream into the tracker, echoing progress and
// phase transitions as they happen.
func consume(w io.Writer, stream *client.Stream, tracker *client.Tracker) error {
	var lastProgress string
	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		tracker.Apply(ev)

		switch ev.Type {
		case models.EventProgress:
			if msg := tracker.StatusMessage(); msg != "" && msg != lastProgress {
				fmt.Fprintf(w, "  %s\n", msg)
				lastProgress = msg
			}
		case models.EventStepStarted:
			if p, err := ev.Step(); err == nil {
				fmt.Fprintf(w, "== %s\n", p.Step)
			}
		case models.EventQueryAdded:
			if q, err := ev.Query(); err == nil {
				fmt.Fprintf(w, "  query: %s\n", q.Query)
			}
		case models.EventSourceFound:
			if src, err := ev.Source(); err == nil {
				fmt.Fprintf(w, "  source: %s (%s)\n", src.Title, src.Domain)
			}
		}

		if s := tracker.State(); s == client.StateCompleted || s == client.StateFailed {
			return nil
		}
	}
}

func render(w io.Writer, report string, plain bool) error {
	if plain {
		_, err := fmt.Fprintln(w, report)
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		// No usable terminal style; fall back to raw markdown.
		_, werr := fmt.Fprintln(w, report)
		return werr
	}
	out, err := r.Render(report)
	if err != nil {
		_, werr := fmt.Fprintln(w, report)
		return werr
	}
	_, err = fmt.Fprint(w, out)
	return err
}
