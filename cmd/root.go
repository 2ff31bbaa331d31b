// Package cmd provides the fiqhbridge CLI commands.
//
// Commands:
//   - (default) / chat: interactive Bubble Tea chat with streamed answers
//   - ask / token / contract: single-shot analysis
//   - ingest: scrape compliance sources into the knowledge base
//   - mcp: Model Context Protocol server on stdio
//   - status, version
//
// Signal handling and graceful shutdown are implemented for all commands via
// context cancellation.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amanahlabs/fiqhbridge/internal/config"
	"github.com/amanahlabs/fiqhbridge/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "fiqhbridge",
	Short: "Sharia compliance advisor for crypto assets",
	Long: `fiqhbridge analyzes tokens, contracts, and Islamic finance questions
for Sharia compliance. Answers stream from the native advisory engine when
API keys are configured and from a deterministic offline generator otherwise.

Running fiqhbridge without arguments starts the interactive chat.`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute runs the root command. It is the single entry point called by main.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and builds the logger every command shares.
// Logs go to stderr: stdout stays reserved for answers and, in MCP mode, for
// JSON-RPC frames.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := log.New(log.Config{Level: cfg.SlogLevel(), JSON: cfg.LogJSON})
	return cfg, logger, nil
}
