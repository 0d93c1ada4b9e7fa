package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gripmock/grpctestify/internal/applog"
	"github.com/gripmock/grpctestify/internal/config"
	"github.com/gripmock/grpctestify/internal/gctfparser"
	"github.com/gripmock/grpctestify/internal/grpcdial"
	"github.com/gripmock/grpctestify/internal/orchestrator"
	"github.com/gripmock/grpctestify/internal/plugins"
	"github.com/gripmock/grpctestify/internal/report"
	"github.com/gripmock/grpctestify/internal/validate"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run one or more .gctf test files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, args)
		},
	}
	flags := cmd.Flags()
	flags.String(config.KeyAddress, "", "default gRPC server address (host:port)")
	flags.Duration(config.KeyTimeout, 30*time.Second, "per-test timeout")
	flags.Int(config.KeyParallel, 0, "max concurrent tests (0 = NumCPU)")
	flags.Bool(config.KeyDryRun, false, "parse and validate only, never dial")
	flags.Bool(config.KeyNoAssert, false, "skip ASSERTS evaluation")
	flags.Bool(config.KeyStream, false, "emit NDJSON events instead of console output")
	flags.String(config.KeyLogFormat, "json", "report format: json, junit, allure")
	flags.String(config.KeyLogOutput, "", "report output path (stdout if empty)")
	flags.String(config.KeySort, "name", "file discovery order: name, size, mtime, random")
	flags.Bool(config.KeyCoverage, false, "collect service/method coverage")
	flags.String(config.KeyCoverageFormat, "text", "coverage format: text, json")
	flags.StringSlice(config.KeyImportPaths, nil, "proto import paths")
	return cmd
}

func runAction(cmd *cobra.Command, paths []string) error {
	v, err := config.Load(mergedFlags(cmd))
	if err != nil {
		return err
	}
	cfg := config.FromViper(v)
	logger, err := applog.New(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	registry := plugins.NewBuiltinRegistry()
	connCache := grpcdial.NewConnCache()
	defer connCache.CloseAll()

	var console *report.Console
	var stream *report.Stream
	out := cmd.OutOrStdout()
	if cfg.Stream {
		stream = report.NewStream(out)
	} else {
		console = report.NewConsole(out, logger)
	}

	coverage := newCoverageTracker(cfg.Coverage)

	var cases []report.CaseResult
	runOne := func(ctx context.Context, path string) (*orchestrator.Result, error) {
		src, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, readErr
		}
		doc, parseErr := gctfparser.Parse(path, string(src))
		if parseErr != nil {
			return nil, parseErr
		}
		if validateErr := validate.ValidateHard(doc, validate.Options{
			EnvAddressVar: "GRPCTESTIFY_ADDRESS",
			CallerAddress: cfg.Address,
		}); validateErr != nil {
			return nil, validateErr
		}
		res, runErr := orchestrator.Run(ctx, doc, orchestrator.RunOptions{
			EnvAddressVar: "GRPCTESTIFY_ADDRESS",
			EnvAddress:    os.Getenv("GRPCTESTIFY_ADDRESS"),
			CallerAddress: cfg.Address,
			DryRun:        cfg.DryRun,
			NoAssert:      cfg.NoAssert,
			Timeout:       cfg.Timeout,
			ConnCache:     connCache,
			Registry:      registry,
			ImportPaths:   cfg.ImportPaths,
		})
		if res != nil {
			coverage.record(res)
		}
		return res, runErr
	}

	onResult := func(o orchestrator.CaseOutcome) {
		cr := report.CaseResult{Path: o.Path, Result: o.Result, Err: o.Err, Duration: o.Duration}
		cases = append(cases, cr)
		if stream != nil {
			_ = stream.Report(cr)
			return
		}
		console.Report(cr)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := orchestrator.RunSuite(ctx, paths, cfg.Sort, cfg.Parallel, runOne, onResult); err != nil {
		return err
	}

	if console != nil {
		console.Summary(cases)
	}

	if err := writeReport(cfg, cases); err != nil {
		return err
	}
	if cfg.Coverage {
		coverage.write(out, cfg.CoverageFormat)
	}

	outcomes := make([]orchestrator.CaseOutcome, 0, len(cases))
	for _, c := range cases {
		outcomes = append(outcomes, orchestrator.CaseOutcome{Path: c.Path, Result: c.Result, Err: c.Err, Duration: c.Duration})
	}
	if orchestrator.ExitCode(outcomes) != 0 {
		return fmt.Errorf("%d of %d tests did not pass", failedCount(cases), len(cases))
	}
	return nil
}

func failedCount(cases []report.CaseResult) int {
	n := 0
	for _, c := range cases {
		if c.Err != nil || (c.Result != nil && !c.Result.Passed) {
			n++
		}
	}
	return n
}

func writeReport(cfg config.Config, cases []report.CaseResult) error {
	if cfg.LogFormat == "json" && cfg.LogOutput == "" {
		return nil // console/stream output already covers the default case
	}
	var out = os.Stdout
	if cfg.LogOutput != "" {
		f, err := os.Create(cfg.LogOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	switch cfg.LogFormat {
	case "junit":
		return report.WriteJUnit(out, "grpctestify", cases)
	case "allure":
		dir := cfg.LogOutput
		if dir == "" {
			dir = "."
		}
		return report.WriteAllure(cases, func(name string) (io.WriteCloser, error) {
			return os.Create(dir + "/" + sanitizeName(name))
		})
	default:
		return nil
	}
}

func sanitizeName(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}

// mergedFlags hands config.Load the command's own flags (so --address etc.
// bind into viper); persistent flags like --verbose are looked up directly.
func mergedFlags(cmd *cobra.Command) *pflag.FlagSet {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	cmd.Flags().VisitAll(func(f *pflag.Flag) { fs.AddFlag(f) })
	if verbose := cmd.InheritedFlags().Lookup(config.KeyVerbose); verbose != nil {
		fs.AddFlag(verbose)
	}
	return fs
}
