package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/wesm/tempmail/internal/sync"
)

var (
	inboxJSON  bool
	inboxLimit int
)

var inboxCmd = &cobra.Command{
	Use:     "inbox",
	Aliases: []string{"ls"},
	Short:   "List messages in the current inbox",
	Long: `Sync the current inbox and list its messages, newest first.

Unread messages are marked with '*'. When the provider cannot be reached
the last fetched messages are shown instead.

Examples:
  tempmail inbox
  tempmail inbox --limit 5
  tempmail inbox --json`,
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

		snap := a.inbox.InboxSnapshot(cmd.Context(), acct.Email)
		printSnapshot(snap, inboxLimit, inboxJSON)
		return nil
	},
}

// printSnapshot writes up to limit messages of snap as JSON or a table.
// A non-positive limit prints everything.
func printSnapshot(snap *syncpkg.Snapshot, limit int, asJSON bool) {
	msgs := snap.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}

	if asJSON {
		view := *snap
		view.Messages = msgs
		if err := writeJSON(view); err != nil {
			logger.Warn("failed to encode inbox", "error", err)
		}
		return
	}

	p := newPainter(os.Stdout)
	fmt.Printf("%s  %d messages, %d unread\n", p.paint(headerStyle, snap.Email), len(snap.Messages), snap.Unread())
	if len(snap.Messages) == 0 {
		fmt.Println("No messages yet.")
		return
	}
	fmt.Println()
	writeMessageTable(os.Stdout, p, msgs, time.Now())
	if len(msgs) < len(snap.Messages) {
		fmt.Printf("\n... and %d more\n", len(snap.Messages)-len(msgs))
	}
}

func init() {
	rootCmd.AddCommand(inboxCmd)
	inboxCmd.Flags().BoolVar(&inboxJSON, "json", false, "output as JSON")
	inboxCmd.Flags().IntVarP(&inboxLimit, "limit", "n", 0, "maximum messages to show (0 for all)")
}
