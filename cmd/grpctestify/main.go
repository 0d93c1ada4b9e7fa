// Command grpctestify runs .gctf gRPC test files against a live server:
// parse, validate, dial, invoke, compare, assert, and report — the same
// verb-dispatch shape the teacher CLI used, rearranged as cobra subcommands
// (run, check, fmt, list, explain, inspect, lsp) per the pack's multi-verb
// CLI convention.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gripmock/grpctestify/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "grpctestify",
		Short:         "Run .gctf gRPC test files against a live server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().Bool(config.KeyVerbose, false, "enable verbose logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newFmtCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newExplainCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newLSPCmd())
	return root
}
