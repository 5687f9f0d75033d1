package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/andrewh/genaitrace/pkg/spanstore"
)

func spansCmd() *cobra.Command {
	var (
		filter  spanstore.Filter
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "spans <spans.db>",
		Short: "List GenAI spans recorded with run --store",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing span database\n\nUsage: genaitrace spans <spans.db>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter.Limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("span database %q does not exist\n\nRecord one with:\n  genaitrace run --stdout --store %s <scenario.yaml>", args[0], args[0])
			}
			store, err := spanstore.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck // read-only use

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.SetStyle(table.StyleLight)

			if summary {
				sums, err := store.Summarize(cmd.Context())
				if err != nil {
					return err
				}
				tw.AppendHeader(table.Row{"Model", "Outcome", "Calls", "Mean duration", "Input tokens", "Output tokens"})
				for _, s := range sums {
					tw.AppendRow(table.Row{s.Model, s.Outcome, s.Count, s.MeanDuration.Round(time.Microsecond), s.InputTokens, s.OutputTokens})
				}
				tw.SetColumnConfigs([]table.ColumnConfig{
					{Number: 3, Align: text.AlignRight},
					{Number: 5, Align: text.AlignRight},
					{Number: 6, Align: text.AlignRight},
				})
				tw.Render()
				return nil
			}

			recs, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw.AppendHeader(table.Row{"Trace", "Span", "Name", "Outcome", "Duration", "Tokens in/out", "Error"})
			for _, r := range recs {
				tw.AppendRow(table.Row{r.TraceID, r.SpanID, r.Name, r.Outcome, r.Duration.Round(time.Microsecond), tokens(r), r.ErrorType})
			}
			tw.AppendFooter(table.Row{"", "", "", "", "", "total", len(recs)})
			tw.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Model, "model", "", "only spans for this request model")
	cmd.Flags().StringVar(&filter.Outcome, "outcome", "", "only spans with this outcome: ok, error or cancelled")
	cmd.Flags().StringVar(&filter.TraceID, "trace", "", "only spans in this trace")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum spans to list (0 = all)")
	cmd.Flags().BoolVar(&summary, "summary", false, "aggregate by model and outcome instead of listing")

	return cmd
}

func tokens(r spanstore.Record) string {
	if r.InputTokens == nil && r.OutputTokens == nil {
		return "-"
	}
	n := func(p *int64) string {
		if p == nil {
			return "-"
		}
		return fmt.Sprint(*p)
	}
	return n(r.InputTokens) + "/" + n(r.OutputTokens)
}
