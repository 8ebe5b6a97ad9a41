package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <message-id>...",
	Aliases: []string{"rm"},
	Short:   "Delete messages from the current inbox",
	Long: `Delete one or more messages from the current inbox.

Deleting a message that is already gone succeeds.

Examples:
  tempmail delete 65f1c0a2e4b0c1d2e3f4a5b6
  tempmail rm id1 id2 id3`,
	Args: cobra.MinimumNArgs(1),
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

		var failed int
		for _, id := range args {
			if err := a.inbox.DeleteMessage(cmd.Context(), acct.Email, id); err != nil {
				if cmd.Context().Err() != nil {
					return cmd.Context().Err()
				}
				logger.Error("delete failed", "id", id, "error", err)
				failed++
				continue
			}
			fmt.Printf("Deleted %s\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d deletions failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
