package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/andrewh/genaitrace/pkg/instrument"
)

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <module> <version> <range>",
		Short: "Report which interception points a module version enables",
		Long: "Report which interception points a module version enables.\n\n" +
			"The range is either a Maven-style interval such as \"[1.0,2.0)\" or\n" +
			"a constraint list such as \">= 1.0, < 2.0\".",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 {
				return fmt.Errorf("missing arguments\n\nUsage: genaitrace check <module> <version> <range>")
			}
			return cobra.ExactArgs(3)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := instrument.ParseVersionRange(args[2]); err != nil {
				return err
			}
			sel := instrument.NewSelector(
				instrument.Module{Path: args[0], Version: args[1]},
				args[2],
				[]instrument.InterceptionPoint{instrument.ChatModelCall, instrument.ChatModelStream},
				instrument.WithErrorHandler(func(error) {}),
			)

			w := cmd.OutOrStdout()
			tw := table.NewWriter()
			tw.SetOutputMirror(w)
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"Interception point", "Publisher", "Instrumented"})
			for _, p := range sel.Points() {
				tw.AppendRow(table.Row{p.String(), yesNo(p.ReturnsPublisher), yesNo(sel.Enabled(p))})
			}
			tw.Render()

			if err := sel.Err(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "%s is within %s\n", sel.Module(), args[2])
			return nil
		},
	}
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
