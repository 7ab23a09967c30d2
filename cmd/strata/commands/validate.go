package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stratahq/strata/internal/config"
)

var (
	riskFilePath string
	printConfig  bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <strata.yaml>",
	Short: "Validate a strata configuration file",
	Long: `Validate a strata.yaml against the full configuration schema,
including executor timeouts, queue sizing, cache tiers and the blast-radius
risk table. Exits non-zero on the first violation.`,
	Args: cobra.ExactArgs(1),
	Run:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&riskFilePath, "risk-file", "", "Also validate a standalone risk threshold file")
	validateCmd.Flags().BoolVar(&printConfig, "print", false, "Print the effective configuration after merging defaults")
}

func runValidate(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(args[0])
	HandleError(err, "Invalid configuration")
	fmt.Printf("%s: ok (metrics port %d, %d risk thresholds)\n",
		args[0], cfg.Server.MetricsPort, len(cfg.Risk.Thresholds))

	if printConfig {
		out, err := yaml.Marshal(cfg)
		HandleError(err, "Failed to render configuration")
		_, _ = os.Stdout.Write(out)
	}

	if riskFilePath != "" {
		risk, err := config.LoadRiskFile(riskFilePath)
		HandleError(err, "Invalid risk file")
		fmt.Printf("%s: ok (%d risk thresholds)\n", riskFilePath, len(risk.Thresholds))
	}
}
