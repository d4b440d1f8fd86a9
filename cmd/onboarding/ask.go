package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onboarding-agent/backend/internal/agent"
)

func newAskCmd() *cobra.Command {
	var (
		threadID string
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the assistant a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			return c.agent.Stream(ctx, threadID, strings.Join(args, " "), func(ev agent.Event) error {
				return printEvent(out, ev, verbose)
			})
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "cli", "conversation thread id")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show tool calls and results")
	return cmd
}

func printEvent(w io.Writer, ev agent.Event, verbose bool) error {
	var err error
	switch ev.Type {
	case agent.EventToken:
		_, err = fmt.Fprint(w, ev.Content)
	case agent.EventDone:
		_, err = fmt.Fprintln(w)
	case agent.EventError:
		_, err = fmt.Fprintln(w, "error:", ev.Content)
	case agent.EventToolCall:
		if verbose {
			_, err = fmt.Fprintf(w, "-> %s %s\n", ev.Name, ev.Args)
		}
	case agent.EventToolResult:
		if verbose {
			_, err = fmt.Fprintf(w, "<- %s\n%s\n", ev.Name, ev.Content)
		}
	}
	return err
}
