package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gripmock/grpctestify/internal/gctffmt"
	"github.com/gripmock/grpctestify/internal/gctfparser"
	"github.com/gripmock/grpctestify/internal/orchestrator"
)

func newFmtCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "fmt [paths...]",
		Short: "Reformat .gctf files to canonical style",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmtAction(cmd, args, write)
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "rewrite files in place instead of printing to stdout")
	return cmd
}

func fmtAction(cmd *cobra.Command, roots []string, write bool) error {
	files, err := orchestrator.Discover(roots, "name")
	if err != nil {
		return err
	}
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		doc, err := gctfparser.Parse(path, string(src))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		formatted, err := gctffmt.Format(doc)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if write {
			if formatted == string(src) {
				continue
			}
			if err := os.WriteFile(path, []byte(formatted), 0644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "formatted %s\n", path)
			continue
		}
		fmt.Fprint(cmd.OutOrStdout(), formatted)
	}
	return nil
}
