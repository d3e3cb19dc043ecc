// Command server runs the pattern studio HTTP API.
//
//	server            # same as "server serve"
//	server serve      # start the API
//	server migrate    # apply schema migrations and exit
//	server maintain   # run one maintenance pass and exit
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-pattern-backend/internal/config"
	"github.com/tbourn/go-pattern-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "server",
		Short:         "Cultural pattern generation API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       appVersion(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// The default .env is optional; an explicit --env-file is not.
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
					return fmt.Errorf("load %s: %w", envFile, err)
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	serve := newServeCmd()
	root.AddCommand(serve, newMigrateCmd(), newMaintainCmd())
	root.RunE = serve.RunE
	return root
}

// loadConfig reads the environment and installs the global logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	sysutil.ConfigureLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	log.Info().
		Str("version", appVersion()).
		Str("db_driver", cfg.Database.Driver).
		Str("quota_backend", cfg.Quota.Backend).
		Bool("provider_configured", cfg.Provider.APIKey != "").
		Msg("configuration loaded")
	return cfg, nil
}

func appVersion() string {
	return sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
}
