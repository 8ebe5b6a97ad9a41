package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/tempmail/internal/mailtm"
	"github.com/wesm/tempmail/internal/scheduler"
	syncpkg "github.com/wesm/tempmail/internal/sync"
)

var watchSchedule string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the current inbox and print new mail as it arrives",
	Long: `Follow the current inbox, polling it in the background, and print new
messages as they arrive.

The poll schedule defaults to inbox.schedule from config.toml
("@every 15s"). Standard 5-field cron expressions are also accepted.

Examples:
  tempmail watch
  tempmail watch --schedule "@every 30s"

Use Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := watchSchedule
		if spec == "" {
			spec = cfg.Inbox.Schedule
		}
		if err := scheduler.ValidateSchedule(spec); err != nil {
			return err
		}

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		acct, err := a.currentAccount()
		if err != nil {
			return err
		}

		ctx := cmd.Context()

		// Subscribe before the first sync so nothing slips between the
		// initial listing and the first poll.
		updates, cancel := a.inbox.Subscribe()
		defer cancel()

		snap := a.inbox.InboxSnapshot(ctx, acct.Email)
		printSnapshot(snap, 0, false)

		sched := scheduler.New(func(ctx context.Context, email string) error {
			_, err := a.inbox.Poll(ctx, email)
			return err
		}).WithLogger(logger)
		if err := sched.Watch(acct.Email, spec); err != nil {
			return err
		}
		sched.Start()
		defer func() {
			<-sched.Stop().Done()
		}()

		fmt.Printf("\nWatching %s (%s). Press Ctrl+C to stop.\n\n", acct.Email, spec)

		w := newWatcher(snap)
		p := newPainter(os.Stdout)
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case u, ok := <-updates:
				if !ok {
					return nil
				}
				for _, m := range w.arrivals(u) {
					fmt.Println(messageRow(p, m, time.Now(), true))
				}
			}
		}
	},
}

// watcher tracks which messages have already been shown.
type watcher struct {
	email string
	seen  map[string]bool
}

func newWatcher(initial *syncpkg.Snapshot) *watcher {
	w := &watcher{email: initial.Email, seen: make(map[string]bool, len(initial.Messages))}
	for _, m := range initial.Messages {
		w.seen[m.ID] = true
	}
	return w
}

// arrivals returns the messages of u not shown before, oldest first.
func (w *watcher) arrivals(u syncpkg.Update) []mailtm.Message {
	if u.Snapshot == nil || u.Snapshot.Email != w.email {
		return nil
	}
	fresh := make(map[string]bool, len(u.NewIDs))
	for _, id := range u.NewIDs {
		fresh[id] = true
	}
	var out []mailtm.Message
	// Snapshots are newest first.
	for i := len(u.Snapshot.Messages) - 1; i >= 0; i-- {
		m := u.Snapshot.Messages[i]
		if !fresh[m.ID] || w.seen[m.ID] {
			continue
		}
		w.seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "poll schedule (default: inbox.schedule)")
}
