package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gripmock/grpctestify/internal/diagnostics"
	"github.com/gripmock/grpctestify/internal/gctfparser"
	"github.com/gripmock/grpctestify/internal/orchestrator"
	"github.com/gripmock/grpctestify/internal/validate"
)

func newCheckCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Validate .gctf files without dialing a server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkAction(cmd, args, address)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "address fallback, to silence the missing-ADDRESS diagnostic")
	return cmd
}

func checkAction(cmd *cobra.Command, roots []string, address string) error {
	files, err := orchestrator.Discover(roots, "name")
	if err != nil {
		return err
	}
	hadErrors := false
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			hadErrors = true
			continue
		}
		res := gctfparser.ParseWithRecovery(path, string(src))
		items := res.Diagnostics
		if res.Document != nil {
			items = append(items, validate.Diagnose(res.Document, validate.Options{
				EnvAddressVar: "GRPCTESTIFY_ADDRESS",
				CallerAddress: address,
			})...)
		}
		for _, d := range items {
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%d: %s [%s] %s\n", d.File, d.Range.Start, d.Severity, d.Code, d.Message)
			if d.Severity == diagnostics.SeverityError {
				hadErrors = true
			}
		}
	}
	if hadErrors {
		return fmt.Errorf("validation errors found")
	}
	return nil
}
