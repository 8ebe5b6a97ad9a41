package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesm/tempmail/internal/inbox"
	"github.com/wesm/tempmail/internal/mailtm"
)

var (
	readHTML bool
	readJSON bool
)

var readCmd = &cobra.Command{
	Use:   "read <message-id>",
	Short: "Show a message and mark it read",
	Long: `Fetch a message from the current inbox in full and mark it read.

The plain text body is shown by default. Use --html for the sanitized HTML
body.

Examples:
  tempmail read 65f1c0a2e4b0c1d2e3f4a5b6
  tempmail read 65f1c0a2e4b0c1d2e3f4a5b6 --html`,
	Args: cobra.ExactArgs(1),
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

		msg, err := a.inbox.ReadMessage(cmd.Context(), acct.Email, args[0])
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		if readJSON {
			return writeJSON(msg)
		}

		p := newPainter(os.Stdout)
		fmt.Printf("%s %s\n", p.paint(dimStyle, "From:   "), msg.From)
		if msg.To != "" {
			fmt.Printf("%s %s\n", p.paint(dimStyle, "To:     "), msg.To)
		}
		if !msg.Date.IsZero() {
			fmt.Printf("%s %s\n", p.paint(dimStyle, "Date:   "), msg.Date.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%s %s\n", p.paint(dimStyle, "Subject:"), p.paint(headerStyle, msg.Subject))
		fmt.Println(strings.Repeat("-", 60))
		fmt.Println(messageBody(msg, readHTML))
		return nil
	},
}

// messageBody returns the body to print, deriving text from HTML when the
// message has no text part.
func messageBody(msg *mailtm.Message, html bool) string {
	if html {
		return msg.HTML
	}
	if msg.Text != "" {
		return msg.Text
	}
	if msg.HTML != "" {
		return inbox.PlainText(msg.HTML)
	}
	return "(no body)"
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().BoolVar(&readHTML, "html", false, "show the sanitized HTML body")
	readCmd.Flags().BoolVar(&readJSON, "json", false, "output as JSON")
}
