// Package config resolves the runner's configuration from flags, a
// .grpctestify.yaml file, and environment variables, layered with
// github.com/spf13/viper the way cobra-based CLIs in the pack do it
// (flags > env > config file > defaults).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "GRPCTESTIFY"

	KeyAddress         = "address"
	KeyTimeout         = "timeout"
	KeyParallel        = "parallel"
	KeyDryRun          = "dry-run"
	KeyNoAssert        = "no-assert"
	KeyWrite           = "write"
	KeyStream          = "stream"
	KeyLogFormat       = "log-format"
	KeyLogOutput       = "log-output"
	KeySort            = "sort"
	KeyCoverage        = "coverage"
	KeyCoverageFormat  = "coverage-format"
	KeyImportPaths     = "import-paths"
	KeyVerbose         = "verbose"
)

// Config is the resolved set of options for a `run` invocation.
type Config struct {
	Address        string
	Timeout        time.Duration
	Parallel       int
	DryRun         bool
	NoAssert       bool
	Write          bool
	Stream         bool
	LogFormat      string // json, junit, allure
	LogOutput      string
	Sort           string // name, size, mtime, random
	Coverage       bool
	CoverageFormat string // text, json
	ImportPaths    []string
	Verbose        bool
}

// Load builds a *viper.Viper bound to flags and the GRPCTESTIFY_* env vars,
// reading .grpctestify.yaml from the current directory and $HOME if present.
func Load(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(".grpctestify")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTimeout, 30*time.Second)
	v.SetDefault(KeyParallel, 0) // 0 means "CPU count", resolved by the caller
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeySort, "name")
	v.SetDefault(KeyCoverageFormat, "text")
}

// FromViper materializes a Config from a bound *viper.Viper.
func FromViper(v *viper.Viper) Config {
	return Config{
		Address:        v.GetString(KeyAddress),
		Timeout:        v.GetDuration(KeyTimeout),
		Parallel:       v.GetInt(KeyParallel),
		DryRun:         v.GetBool(KeyDryRun),
		NoAssert:       v.GetBool(KeyNoAssert),
		Write:          v.GetBool(KeyWrite),
		Stream:         v.GetBool(KeyStream),
		LogFormat:      v.GetString(KeyLogFormat),
		LogOutput:      v.GetString(KeyLogOutput),
		Sort:           v.GetString(KeySort),
		Coverage:       v.GetBool(KeyCoverage),
		CoverageFormat: v.GetString(KeyCoverageFormat),
		ImportPaths:    v.GetStringSlice(KeyImportPaths),
		Verbose:        v.GetBool(KeyVerbose),
	}
}

// EnvAddress reads GRPCTESTIFY_ADDRESS directly, for callers (like the
// orchestrator) that need the raw value rather than the full viper chain
// (spec.md §6 "Environment variables").
func EnvAddress(v *viper.Viper) string {
	return os.Getenv(EnvPrefix + "_ADDRESS")
}
