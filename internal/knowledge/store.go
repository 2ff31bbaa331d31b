// Package knowledge stores Sharia rulings in PostgreSQL with pgvector
// similarity search. The store is optional: the engine runs without it and
// simply cites no retrieved rulings.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/amanahlabs/fiqhbridge/db"
	"github.com/amanahlabs/fiqhbridge/internal/log"
)

const (
	// VectorDimension is the embedding width stored in the rulings table.
	// gemini-embedding-001 supports truncation to this size.
	VectorDimension = 1536

	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout = 30 * time.Second

	// MaxTopK caps retrieval size.
	MaxTopK = 20
)

// Sentinel errors.
var (
	ErrNoPool     = errors.New("connection pool is required")
	ErrNoEmbedder = errors.New("embedder is required")
)

// Ruling is one stored Sharia ruling with its citation.
type Ruling struct {
	ID        uuid.UUID
	Topic     string
	Verdict   string // Halal, Haram, Conditionally Permissible
	Content   string
	Source    string // e.g. "AAOIFI Sharia Standard 17"
	CreatedAt time.Time
}

// Store manages the rulings corpus. Safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   log.Logger
}

// Open connects to the rulings database, applies pending migrations, and
// returns a ready Store. The caller owns Close.
func Open(ctx context.Context, connURL string, embedder ai.Embedder, logger log.Logger) (*Store, error) {
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	if logger == nil {
		logger = log.NewNop()
	}

	if err := db.Migrate(connURL); err != nil {
		return nil, fmt.Errorf("migrating rulings schema: %w", err)
	}

	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to rulings store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging rulings store: %w", err)
	}

	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// NewStore wraps an existing pool, for callers that manage their own
// connections (tests, batch ingestion).
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, ErrNoPool
	}
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// embed generates a vector for the given text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := int32(VectorDimension)
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Add inserts a ruling. Exact content duplicates are ignored.
func (s *Store) Add(ctx context.Context, r Ruling) error {
	if strings.TrimSpace(r.Content) == "" {
		return errors.New("ruling content is empty")
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()
	vec, err := s.embed(embedCtx, r.Content)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rulings (topic, verdict, content, source, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (md5(content)) DO NOTHING`,
		r.Topic, r.Verdict, r.Content, r.Source, vec,
	)
	if err != nil {
		return fmt.Errorf("inserting ruling: %w", err)
	}
	return nil
}

// Search returns the topK rulings nearest to the question.
func (s *Store) Search(ctx context.Context, question string, topK int) ([]Ruling, error) {
	if strings.TrimSpace(question) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 3
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()
	vec, err := s.embed(embedCtx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, topic, verdict, content, source, created_at
		 FROM rulings
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching rulings: %w", err)
	}
	defer rows.Close()

	var out []Ruling
	for rows.Next() {
		var r Ruling
		if err := rows.Scan(&r.ID, &r.Topic, &r.Verdict, &r.Content, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ruling: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rulings: %w", err)
	}
	return out, nil
}
