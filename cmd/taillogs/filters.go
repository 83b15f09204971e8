package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"taillogs/internal/logging"
	"taillogs/internal/streams"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newFiltersCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "filters",
		Short: "Show which streams are active",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			registry, err := streams.Load(cfg.Streams.DocumentPath(), logging.New(cfg.LogLevel).WithWriter(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			return printFilters(cmd, registry.Snapshot(), jsonOutput)
		},
	}
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print the activation map as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "set name=true|false...",
		Short: "Activate or deactivate streams; any value other than true deactivates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			values, err := parseAssignments(args)
			if err != nil {
				return err
			}

			logger := logging.New(cfg.LogLevel).WithWriter(cmd.ErrOrStderr())
			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.filters.Apply(cmd.Context(), values); err != nil {
				return err
			}
			return printFilters(cmd, a.registry.Snapshot(), jsonOutput)
		},
	})

	return cmd
}

func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid filter %q, want name=true or name=false", arg)
		}
		values[name] = strings.TrimSpace(value)
	}
	return values, nil
}

func printFilters(cmd *cobra.Command, doc *streams.Document, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc.ActiveMap())
	}
	_, err := fmt.Fprintln(out, renderFilters(doc))
	return err
}

// renderFilters lists streams in declaration order with their sources
func renderFilters(doc *streams.Document) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Stream", "Active", "Sources"})

	for _, s := range doc.Streams {
		ids := make([]string, 0, len(s.LogFiles)+1)
		for _, src := range s.Sources() {
			if src.IsTable() {
				ids = append(ids, "db "+src.ID)
				continue
			}
			ids = append(ids, src.ID)
		}
		tw.AppendRow(table.Row{s.Name, yesNo(s.Active), strings.Join(ids, "\n")})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignCenter, AlignHeader: text.AlignLeft},
	})
	tw.SetTitle("Node " + doc.NodeName)
	return tw.Render()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
