package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/jordigilh/kubernaut-sub006/internal/logging"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var (
	logLevelFlags []string // supports multiple --log-level flags
)

var rootCmd = &cobra.Command{
	Use:   "signalprocessor",
	Short: "Signal enrichment and policy-driven categorization",
	Long: `signalprocessor reconciles raw signals into enriched, classified
records: it snapshots the Kubernetes topology around each signal's target,
detects workload characteristics, and categorizes the signal through a
policy-driven confidence cascade.`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level policy.engine=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use a bare level for the default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level policy.engine=debug --log-level controller=warn")

	rootCmd.AddCommand(runCmd)
}

// HandleError prints error and exits.
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// setupLog initializes the logging system with parsed log level flags.
// Priority: CLI flags > LOG_LEVEL_* environment variables > default.
func setupLog(flags []string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags merges CLI flags over LOG_LEVEL_* environment
// variables. Env var names map back to package names with underscores as
// dots: LOG_LEVEL_POLICY_ENGINE=debug selects policy.engine.
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := map[string]string{}

	for _, envPair := range os.Environ() {
		if !strings.HasPrefix(envPair, "LOG_LEVEL_") {
			continue
		}
		parts := strings.SplitN(envPair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "LOG_LEVEL_")
		result[strings.ToLower(strings.ReplaceAll(name, "_", "."))] = parts[1]
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		result[parts[0]] = parts[1]
	}

	defaultLevel := "info"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}

	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}

	return defaultLevel, result, nil
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error", "fatal":
		return nil
	}
	return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error, fatal)", level)
}
