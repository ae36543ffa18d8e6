package cmd

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, log, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Migrate(); err != nil {
			return err
		}
		log.Info("Database migration completed successfully")
		return nil
	},
}
