package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/tempmail/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage and provider connectivity",
	Long: `Run a series of checks and report what is working.

This command:
1. Loads the account store for the configured backend
2. Lists the domains Mail.tm currently offers
3. Verifies the stored token with the provider, if an inbox exists`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		p := newPainter(os.Stdout)
		var failed int
		report := func(name string, detail string, err error) {
			if err != nil {
				failed++
				fmt.Printf("  %s %-10s %v\n", p.paint(errorStyle, "FAIL"), name, err)
				return
			}
			fmt.Printf("  %s %-10s %s\n", p.paint(okStyle, " OK "), name, detail)
		}

		fmt.Printf("Home:     %s\n", cfg.HomeDir)
		fmt.Printf("Backend:  %s\n", cfg.Storage.Backend)
		fmt.Printf("Provider: %s\n\n", cfg.Provider.BaseURL)

		acct, err := a.store.Load()
		switch {
		case err == nil:
			report("storage", "inbox "+acct.Email, nil)
		case errors.Is(err, store.ErrNoAccount):
			report("storage", "no inbox stored", nil)
		default:
			report("storage", "", err)
		}

		domains, derr := a.client.ListDomains(ctx)
		if derr == nil {
			names := make([]string, 0, len(domains))
			for _, d := range domains {
				names = append(names, d.Domain)
			}
			report("domains", strings.Join(names, ", "), nil)
		} else {
			report("domains", "", derr)
		}

		if err == nil {
			if info, merr := a.client.Me(ctx, acct.Token); merr != nil {
				report("token", "", merr)
			} else {
				report("token", "valid for "+info.Address, nil)
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
