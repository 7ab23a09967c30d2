package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratahq/strata/internal/logging"
)

const Version = "0.1.0"

var (
	logLevelFlags []string // Supports multiple --log-level flags
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Strata - Cross-Repository IaC Rollup Engine",
	Long: `Strata aggregates per-repository infrastructure-as-code graphs into
tenant-scoped merged graphs, matching nodes that describe the same external
resource across repositories and answering blast-radius queries over the
result.`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all subcommands
	// Supports per-package log levels: --log-level debug --log-level index.builder=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level index.builder=debug --log-level queue=warn")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(validateCmd)
}

// HandleError prints error and exits
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// setupLog initializes the logging system with parsed log level flags.
func setupLog(flags []string) error {
	defaultLevel, packageLevels, err := logging.ParseLevelFlags(flags)
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}
