package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amanahlabs/fiqhbridge/internal/app"
	"github.com/amanahlabs/fiqhbridge/internal/lifecycle"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine state and configuration",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing runtime: %w", err)
	}
	defer func() {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	out := cmd.OutOrStdout()

	state := a.Lifecycle.State()
	fmt.Fprintf(out, "Engine:   %s\n", state)
	if state != lifecycle.StateReady {
		if cause := a.Lifecycle.FailureCause(); cause != nil {
			fmt.Fprintf(out, "Cause:    %s\n", cause)
		}
		fmt.Fprintln(out, "Answers come from the offline generator.")
	}

	fmt.Fprintf(out, "Provider: %s\n", cfg.PreferredProvider)
	fmt.Fprintf(out, "Language: %s\n", cfg.Language)
	for provider, key := range cfg.APIKeys() {
		fmt.Fprintf(out, "API key:  %s (%s)\n", provider, maskKey(key))
	}
	if cfg.VectorStoreURL != "" {
		fmt.Fprintln(out, "Knowledge base: configured")
	}
	if cfg.EnableChainFeatures && cfg.ChainRPCURL != "" {
		fmt.Fprintf(out, "Chain RPC: %s\n", cfg.ChainRPCURL)
	}
	if cfg.StoragePath != "" {
		fmt.Fprintf(out, "History:  %s\n", cfg.StoragePath)
		if a.History != nil {
			turns, err := a.History.Recent(1)
			if err == nil && len(turns) > 0 {
				fmt.Fprintf(out, "Last analysis: %s\n", turns[0].CreatedAt.Format("2006-01-02 15:04"))
			}
		}
	}
	return nil
}

// maskKey shows just enough of a key to recognize it.
func maskKey(key string) string {
	if len(key) < 8 {
		return "configured"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
