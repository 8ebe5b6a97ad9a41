package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/tempmail/internal/api"
	"github.com/wesm/tempmail/internal/scheduler"
	"github.com/wesm/tempmail/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the inbox over HTTP with background polling",
	Long: `Run tempmail as a long-running daemon.

The daemon runs in the foreground and performs:
  - HTTP API server on the configured port (default: 8080)
  - Background polling of the current inbox on inbox.schedule

Creating an inbox through the API switches polling to the new address.

Configure the server in config.toml:
  [server]
  bind = "127.0.0.1"
  api_port = 8080
  api_key = "change-me"

  [inbox]
  schedule = "@every 15s"

Use Ctrl+C to stop the daemon gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(func(ctx context.Context, email string) error {
		_, err := a.inbox.Poll(ctx, email)
		return err
	}).WithLogger(logger)

	acct, err := a.inbox.Account()
	switch {
	case err == nil:
		if err := sched.Follow(acct.Email, cfg.Inbox.Schedule); err != nil {
			return fmt.Errorf("schedule %s: %w", acct.Email, err)
		}
	case errors.Is(err, store.ErrNoAccount):
		logger.Info("no inbox yet, polling starts when one is created")
	default:
		return fmt.Errorf("load account: %w", err)
	}

	sched.Start()
	apiServer := api.NewServer(cfg, a.inbox, sched, logger)

	fmt.Printf("tempmail daemon started\n")
	fmt.Printf("  API server: http://%s\n", cfg.ServerAddr())
	fmt.Printf("  Home directory: %s\n", cfg.HomeDir)
	for _, st := range sched.Status() {
		fmt.Printf("  %s: next poll at %s\n", st.Email, st.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()

	fmt.Println("Waiting for running polls to complete...")
	select {
	case <-sched.Stop().Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}
	return err
}
