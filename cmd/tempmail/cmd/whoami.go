package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	whoamiJSON         bool
	whoamiShowPassword bool
	whoamiCheck        bool
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current inbox address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		acct, err := a.currentAccount()
		if err != nil {
			return err
		}

		if whoamiCheck {
			if _, err := a.client.Me(cmd.Context(), acct.Token); err != nil {
				return fmt.Errorf("token for %s rejected by provider: %w", acct.Email, err)
			}
		}

		if whoamiJSON {
			return writeJSON(accountView(acct, whoamiShowPassword))
		}

		fmt.Println(acct.Email)
		if whoamiShowPassword {
			fmt.Printf("password: %s\n", acct.Password)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
	whoamiCmd.Flags().BoolVar(&whoamiJSON, "json", false, "output as JSON")
	whoamiCmd.Flags().BoolVar(&whoamiCheck, "check", false, "verify the stored token with the provider")
	whoamiCmd.Flags().BoolVar(&whoamiShowPassword, "show-password", false, "include the account password")
}
