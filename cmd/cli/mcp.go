package cli

import (
	"trackwise/internal/config"
	mcpserver "trackwise/internal/mcp"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server on stdio",
	Long: `Expose the automation engine to AI assistants over the Model
Context Protocol. The server speaks JSON-RPC 2.0 on stdin/stdout, so
logging is forced to file output to keep the transport clean.`,
	Run: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	// stdout carries the protocol; anything else would corrupt it.
	cfg.Log.Output = "file"
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	engine, client, err := buildEngine(cfg, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to build engine: %v", err)
	}

	srv := mcpserver.NewServer(engine, client, appLogger)
	if err := srv.Serve(); err != nil {
		appLogger.Fatalf("MCP server failed: %v", err)
	}
}
