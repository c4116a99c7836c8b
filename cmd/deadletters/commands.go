package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/workoutsync/internal/config"
	"example.com/workoutsync/internal/outbox"
	"example.com/workoutsync/internal/persistence/sqlite"
)

type rootOptions struct {
	Database string
	Format   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "deadletters",
		Short:         "Inspect and replay sync items that exhausted their retries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", config.Defaults().DatabasePath, "path to the local SQLite database")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newRequeueCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dead letters, oldest failure first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(m *outbox.DeadLetterManager) error {
				letters, err := m.List(cmd.Context())
				if err != nil {
					return err
				}
				return printLetters(cmd.OutOrStdout(), opts.Format, letters)
			})
		},
	}
}

func newRequeueCommand(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "requeue [ids...]",
		Short: "Move dead letters back into the sync queue",
		Long: `Move dead letters back into the sync queue with a fresh retry budget.

A dead letter whose key already has a newer pending item is discarded instead,
since the newer item carries the latest state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("pass either dead letter ids or --all")
			}
			return withManager(opts, func(m *outbox.DeadLetterManager) error {
				var (
					n   int
					err error
				)
				if all {
					n, err = m.RequeueAll(cmd.Context())
				} else {
					n, err = m.Requeue(cmd.Context(), args...)
				}
				if n > 0 || err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "requeued %d\n", n)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "requeue every dead letter")
	return cmd
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every dead letter permanently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(m *outbox.DeadLetterManager) error {
				n, err := m.Purge(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d\n", n)
				return nil
			})
		},
	}
}

func withManager(opts *rootOptions, fn func(*outbox.DeadLetterManager) error) error {
	store, err := sqlite.Open(opts.Database)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.Database, err)
	}
	defer store.Close()
	return fn(outbox.NewDeadLetterManager(store))
}

type letterView struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	RetryCount int             `json:"retry_count"`
	Reason     string          `json:"reason"`
	FailedAt   time.Time       `json:"failed_at"`
	Payload    json.RawMessage `json:"payload"`
}

func printLetters(w io.Writer, format string, letters []outbox.DeadLetter) error {
	if format == "json" {
		views := make([]letterView, 0, len(letters))
		for _, l := range letters {
			views = append(views, letterView{
				ID:         l.ID,
				Type:       string(l.Type),
				SessionID:  l.SessionID,
				RetryCount: l.RetryCount,
				Reason:     l.Reason,
				FailedAt:   l.FailedAt,
				Payload:    l.Payload,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(letters) == 0 {
		fmt.Fprintln(w, "no dead letters")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSESSION\tRETRIES\tFAILED AT\tREASON")
	for _, l := range letters {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", l.ID, l.Type, l.SessionID, l.RetryCount, l.FailedAt.Format(time.RFC3339), l.Reason)
	}
	return tw.Flush()
}
