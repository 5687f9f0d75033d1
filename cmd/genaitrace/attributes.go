package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/andrewh/genaitrace/pkg/genai"
	"github.com/andrewh/genaitrace/pkg/semconv"
)

func attributesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attributes [prefix]",
		Short: "List the semantic convention attributes spans are checked against",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := semconv.LoadEmbedded()
			if err != nil {
				return fmt.Errorf("loading semantic conventions: %w", err)
			}
			prefix := "gen_ai."
			if len(args) == 1 {
				prefix = args[0]
			}
			attrs := reg.Attributes(prefix)
			if len(attrs) == 0 {
				return fmt.Errorf("no attributes start with %q", prefix)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"Attribute", "Type", "Stability", "Emitted"})
			for _, a := range attrs {
				typ := a.Type.Name
				if typ == semconv.TypeEnum {
					typ = "enum: " + strings.Join(a.Type.MemberValues(), ", ")
				}
				stability := a.Stability
				if a.IsDeprecated() {
					stability = "deprecated"
				}
				tw.AppendRow(table.Row{a.ID, typ, stability, yesNo(emitted(attribute.Key(a.ID)))})
			}
			tw.Render()
			return nil
		},
	}
}

func emitted(k attribute.Key) bool {
	return slices.Contains(genai.RequestKeys, k) ||
		slices.Contains(genai.ResponseKeys, k) ||
		slices.Contains(genai.ContentKeys, k) ||
		k == genai.ErrorTypeKey
}

// attributeChecker reports GenAI spans whose attributes the registry does not define.
type attributeChecker struct {
	reg    *semconv.Registry
	report func(error)
}

var _ sdktrace.SpanProcessor = (*attributeChecker)(nil)

func (c *attributeChecker) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (c *attributeChecker) OnEnd(s sdktrace.ReadOnlySpan) {
	attrs := s.Attributes()
	if !slices.ContainsFunc(attrs, func(kv attribute.KeyValue) bool { return kv.Key == genai.OperationNameKey }) {
		return
	}
	if err := c.reg.CheckAll(attrs, genai.ExtensionKeys...); err != nil {
		c.report(fmt.Errorf("span %q: %w", s.Name(), err))
	}
}

func (c *attributeChecker) Shutdown(context.Context) error   { return nil }
func (c *attributeChecker) ForceFlush(context.Context) error { return nil }
