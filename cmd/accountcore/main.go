// Command accountcore runs the account service and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/internal/appconfig"
	"github.com/MrEthical07/accountcore/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	configPath string
	envFile    string
}

func main() {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "accountcore",
		Short:         "Account identity and security service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", envOr("ACCOUNTCORE_CONFIG", ""), "YAML config file (env ACCOUNTCORE_CONFIG)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newServeCmd(&flags),
		newMigrateCmd(&flags),
		newGCCmd(&flags),
		newUserCmd(&flags),
		newReportCmd(&flags),
		newLoadtestCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// load reads the configuration and builds the process logger.
func load(flags *globalFlags) (*appconfig.Config, *zap.Logger, error) {
	cfg, err := appconfig.Load(flags.configPath, flags.envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.Logger(version))
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
