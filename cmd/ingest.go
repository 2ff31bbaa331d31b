package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"

	"github.com/amanahlabs/fiqhbridge/internal/ingest"
	"github.com/amanahlabs/fiqhbridge/internal/knowledge"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [symbol...]",
	Short: "Scrape compliance sources for tokens into the knowledge base",
	Long: `ingest fetches published Sharia compliance analyses for the given token
symbols and stores them in the vector knowledge base, where the advisory
engine retrieves them as ruling context.

Requires a configured vector store URL and a Gemini API key for embeddings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.VectorStoreURL == "" {
		return fmt.Errorf("ingest requires a vector store: set vector_store_url in the config or FIQHBRIDGE_VECTOR_STORE_URL")
	}
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("ingest requires GEMINI_API_KEY for embeddings")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.GeminiAPIKey}))
	if g == nil {
		return fmt.Errorf("initializing embedding runtime failed")
	}
	embedder := googlegenai.GoogleAIEmbedder(g, "gemini-embedding-001")

	store, err := knowledge.Open(ctx, cfg.VectorStoreURL, embedder, logger)
	if err != nil {
		return fmt.Errorf("opening knowledge store: %w", err)
	}
	defer store.Close()

	scraper, err := ingest.NewScraper(logger)
	if err != nil {
		return fmt.Errorf("creating scraper: %w", err)
	}

	out := cmd.OutOrStdout()
	var failed []string
	for _, symbol := range args {
		n, err := scraper.IngestToken(ctx, store, symbol)
		if err != nil {
			logger.Warn("ingest failed", "symbol", symbol, "error", err)
			failed = append(failed, symbol)
			continue
		}
		fmt.Fprintf(out, "%s: stored %d ruling(s)\n", strings.ToUpper(symbol), n)
	}

	if len(failed) > 0 {
		return fmt.Errorf("no sources ingested for: %s", strings.Join(failed, ", "))
	}
	return nil
}
