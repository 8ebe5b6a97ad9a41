package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the current inbox",
	Long: `Forget the current inbox locally. The account and its messages remain on
Mail.tm until the provider expires them; the credentials are not recoverable.`,
	Args: cobra.NoArgs,
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
		if err := a.inbox.Logout(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Printf("Forgot %s\n", acct.Email)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
