package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gripmock/grpctestify/internal/gctfparser"
	"github.com/gripmock/grpctestify/internal/plan"
)

func newExplainCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "explain <file>",
		Short: "Print the derived execution plan for a .gctf file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return explainAction(cmd, args[0], format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json")
	return cmd
}

func explainAction(cmd *cobra.Command, path, format string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := gctfparser.Parse(path, string(src))
	if err != nil {
		return err
	}
	p := plan.Build(doc)
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	fmt.Fprintf(out, "mode: %s\n", p.Mode)
	for _, s := range p.Steps {
		fmt.Fprintf(out, "  step %d: %s\n", s.Index, s.Kind)
	}
	return nil
}
