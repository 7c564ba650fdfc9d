package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the backend and save the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(verbose)
		if err != nil {
			return err
		}

		client := app.backendClient(cmd.Context())
		if err := app.ensureBackendLogin(cmd.Context(), client); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s\n", client.Token().UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Invalidate the backend session",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(verbose)
		if err != nil {
			return err
		}

		client := app.backendClient(cmd.Context())
		client.Logout(cmd.Context())
		if err := app.vault.Delete(tokenEntry); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
