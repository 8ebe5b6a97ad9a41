package cmd

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/wesm/tempmail/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server for AI assistant access",
	Long: `Start a Model Context Protocol server over stdio.

This allows AI assistants like Claude Desktop to create disposable inboxes
and read the mail they receive.

Add to Claude Desktop config:
  {
    "mcpServers": {
      "tempmail": {
        "command": "tempmail",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return mcpserver.Serve(cmd.Context(), a.inbox, Version)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
