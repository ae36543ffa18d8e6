package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	adminName  string
	adminEmail string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account or promote an existing one",
	Long: `Admins cannot register through the API. This command creates one, or
promotes and re-enables the account with the given e-mail. The password
is read from ADMIN_PASSWORD.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("ADMIN_PASSWORD")
		if password == "" {
			return fmt.Errorf("ADMIN_PASSWORD must be set")
		}

		a, log, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Migrate(); err != nil {
			return err
		}

		user, err := a.Auth.CreateAdmin(cmd.Context(), adminName, adminEmail, password)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email}).Info("Admin account ready")
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminName, "name", "Administrator", "display name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "e-mail address (required)")
	_ = createAdminCmd.MarkFlagRequired("email")
}
