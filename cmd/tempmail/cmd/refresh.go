package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/wesm/tempmail/internal/sync"
)

var refreshJSON bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a sync of the current inbox",
	Long: `Force a sync of the current inbox and list its messages.

Unlike 'inbox', a refresh is refused when the previous sync of this inbox
was only a few seconds ago (see inbox.manual_interval).`,
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

		snap, err := a.inbox.ManualRefresh(cmd.Context(), acct.Email)
		if err != nil {
			var throttled *syncpkg.ThrottledError
			if errors.As(err, &throttled) {
				return fmt.Errorf("refreshed too recently, try again in %s", throttled.RetryAfter.Round(time.Second))
			}
			return fmt.Errorf("refresh: %w", err)
		}
		printSnapshot(snap, 0, refreshJSON)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().BoolVar(&refreshJSON, "json", false, "output as JSON")
}
