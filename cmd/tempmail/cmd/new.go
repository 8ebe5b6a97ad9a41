package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/tempmail/internal/store"
)

var newJSON bool

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new disposable inbox",
	Long: `Create a new disposable inbox on Mail.tm and make it the current inbox.

The previous inbox, if any, is forgotten locally. Its messages stay on the
provider until they expire.

Examples:
  tempmail new
  tempmail new --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		acct, err := a.inbox.ProvisionNewInbox(cmd.Context())
		if err != nil {
			return fmt.Errorf("create inbox: %w", err)
		}

		if newJSON {
			return writeJSON(accountView(acct, true))
		}

		p := newPainter(os.Stdout)
		fmt.Println(p.paint(okStyle, "Inbox created"))
		fmt.Printf("  Address:  %s\n", p.paint(headerStyle, acct.Email))
		fmt.Printf("  Password: %s\n", acct.Password)
		fmt.Println()
		fmt.Println("Run 'tempmail watch' to follow new mail.")
		return nil
	},
}

// accountJSON is the CLI view of an account; the bearer token is never printed.
type accountJSON struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Provider string `json:"provider"`
}

func accountView(acct *store.Account, withPassword bool) accountJSON {
	v := accountJSON{
		Email:    acct.Email,
		Username: acct.Username,
		Provider: acct.Provider,
	}
	if withPassword {
		v.Password = acct.Password
	}
	return v
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().BoolVar(&newJSON, "json", false, "output as JSON")
}
