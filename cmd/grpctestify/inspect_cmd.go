package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gripmock/grpctestify/internal/gctfparser"
	"github.com/gripmock/grpctestify/internal/optimizer"
	"github.com/gripmock/grpctestify/internal/plugins"
	"github.com/gripmock/grpctestify/internal/semantics"
	"github.com/gripmock/grpctestify/internal/validate"
)

func newInspectCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the AST, diagnostics, and optimization hints for a .gctf file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectAction(cmd, args[0], format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json")
	return cmd
}

type inspectReport struct {
	Sections    []string      `json:"sections"`
	Diagnostics []string      `json:"diagnostics"`
	Hints       []optimizer.Hint `json:"hints"`
}

func inspectAction(cmd *cobra.Command, path, format string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	res := gctfparser.ParseWithRecovery(path, string(src))
	if res.Document == nil {
		return fmt.Errorf("%s: document failed to parse", path)
	}
	registry := plugins.NewBuiltinRegistry()

	items := res.Diagnostics
	items = append(items, validate.Diagnose(res.Document, validate.Options{EnvAddressVar: "GRPCTESTIFY_ADDRESS"})...)
	items = append(items, semantics.Analyze(res.Document, registry)...)
	hints := optimizer.Analyze(res.Document, registry)

	rep := inspectReport{Hints: hints}
	for _, s := range res.Document.Sections {
		rep.Sections = append(rep.Sections, fmt.Sprintf("%s (lines %d-%d)", s.Type, s.Range.Start, s.Range.End))
	}
	for _, d := range items {
		rep.Diagnostics = append(rep.Diagnostics, fmt.Sprintf("%s:%d [%s] %s: %s", d.File, d.Range.Start, d.Severity, d.Code, d.Message))
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintln(out, "Sections:")
	for _, s := range rep.Sections {
		fmt.Fprintf(out, "  %s\n", s)
	}
	fmt.Fprintln(out, "Diagnostics:")
	for _, d := range rep.Diagnostics {
		fmt.Fprintf(out, "  %s\n", d)
	}
	fmt.Fprintln(out, "Optimizer hints:")
	for _, h := range rep.Hints {
		fmt.Fprintf(out, "  %d-%d [%s] %s\n", h.Range.Start, h.Range.End, h.Code, h.Message)
	}
	return nil
}
