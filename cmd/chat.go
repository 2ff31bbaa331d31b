package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/amanahlabs/fiqhbridge/internal/app"
	"github.com/amanahlabs/fiqhbridge/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive advisory chat",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
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

	model, err := tui.New(ctx, a.Advisor, a.Lifecycle, cfg.Language)
	if err != nil {
		return fmt.Errorf("creating chat interface: %w", err)
	}

	program := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("chat exited: %w", err)
	}
	return nil
}
