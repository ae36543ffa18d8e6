package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/homefix/marketplace-api/app"
	"github.com/homefix/marketplace-api/config"
	"github.com/homefix/marketplace-api/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "marketplace-api",
	Short: "HomeFix home-services marketplace API",
	Long: `The marketplace API connects customers with service providers.

Run "serve" for the HTTP API and "worker" for notifications and
scheduled jobs. Both read their configuration from the environment
(optionally through a .env.<GO_ENV> file).`,
	SilenceUsage: true,
}

// Execute runs the command line
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd, createAdminCmd)
}

// bootstrap loads configuration and builds the application
func bootstrap(ctx context.Context) (*app.App, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log := utils.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialise application")
		return nil, nil, err
	}
	return a, log, nil
}
