package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"marvinmcp/internal/config"
	"marvinmcp/internal/server"
	"marvinmcp/pkg/logging"

	"github.com/spf13/cobra"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath points at an optional YAML configuration file. Environment
// variables still override whatever the file sets.
var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the marvin-mcp server",
	Long: `Starts the HTTP server that carries the OAuth authorization endpoints,
the discovery documents and the JSON-RPC protocol endpoint.

Configuration is read from the environment (optionally seeded from a .env
file) and can be layered on top of a YAML file passed with --config.
OAUTH_SIGNING_SECRET must be set; everything else has a default.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logLevel := logging.LevelInfo
	if serveDebug {
		logLevel = logging.LevelDebug
	}
	logging.Init(logLevel, os.Stderr)

	cfg, err := config.LoadConfig(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, GetVersion())
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	return srv.Start(ctx)
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a YAML configuration file")
	rootCmd.AddCommand(serveCmd)
}
