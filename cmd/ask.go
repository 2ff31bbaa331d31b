package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amanahlabs/fiqhbridge/internal/app"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

var askLanguage string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single Islamic finance question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSingleShot(cmd, query.KindText, strings.Join(args, " "))
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token [symbol]",
	Short: "Analyze a token for Sharia compliance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSingleShot(cmd, query.KindToken, args[0])
	},
}

var contractCmd = &cobra.Command{
	Use:   "contract [address]",
	Short: "Analyze a smart contract for Sharia compliance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSingleShot(cmd, query.KindContract, args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{askCmd, tokenCmd, contractCmd} {
		c.Flags().StringVar(&askLanguage, "lang", "", "answer language (default from config)")
		rootCmd.AddCommand(c)
	}
}

// runSingleShot executes one advisory query and prints the answer.
func runSingleShot(cmd *cobra.Command, kind query.Kind, text string) error {
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

	language := askLanguage
	if language == "" {
		language = cfg.Language
	}

	resp, err := a.Advisor.Analyze(ctx, query.NewTextRequest(kind, text, language))
	if err != nil {
		return fmt.Errorf("%s failed: %w", kind, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Text)
	fmt.Fprintf(out, "\nConfidence: %.0f%%\n", resp.Confidence*100)
	if len(resp.Sources) > 0 {
		fmt.Fprintf(out, "Sources: %s\n", strings.Join(resp.Sources, ", "))
	}
	if len(resp.FollowUps) > 0 {
		fmt.Fprintln(out, "\nSuggested follow-ups:")
		for _, q := range resp.FollowUps {
			fmt.Fprintf(out, "  - %s\n", q)
		}
	}
	return nil
}
