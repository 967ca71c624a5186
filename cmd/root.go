package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the marvin-mcp application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "marvin-mcp",
	Short: "Expose the Amazing Marvin API as an OAuth-protected tool server",
	Long: `marvin-mcp serves the Amazing Marvin task-management API as a set of
callable tools over JSON-RPC, fronted by a built-in OAuth 2.0
authorization server. Clients register, walk the authorization-code
flow with PKCE, and receive bearer tokens that carry their Marvin
credentials on every tool call.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// It is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "marvin-mcp version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
