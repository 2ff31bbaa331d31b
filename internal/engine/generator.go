package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/amanahlabs/fiqhbridge/internal/native"
)

// Provider-qualified model defaults.
const (
	geminiModel   = "googleai/gemini-2.5-flash"
	openaiModel   = "openai/gpt-4o"
	groqModel     = "llama-3.3-70b-versatile"
	groqBaseURL   = "https://api.groq.com/openai/v1"
	embedderModel = "gemini-embedding-001"
)

// generator is the minimal text-generation seam the subsystem needs: one
// blocking completion and one streamed completion that reports deltas in
// order and returns the full text.
type generator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Stream(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error)
}

// newGenerator builds the provider-selected generator. The preferred
// provider must have a key in cfg.APIKeys; that is a configuration error,
// not an availability problem.
func newGenerator(ctx context.Context, cfg native.Config) (generator, ai.Embedder, error) {
	key := cfg.APIKeys[cfg.PreferredProvider]
	if key == "" {
		return nil, nil, native.NewError(native.CodeInitConfigInvalid,
			"no API key for provider %q", cfg.PreferredProvider)
	}

	switch cfg.PreferredProvider {
	case "gemini":
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: key}))
		if g == nil {
			return nil, nil, native.NewError(native.CodeInitConfigInvalid,
				"initializing generation runtime with gemini provider")
		}
		emb := googlegenai.GoogleAIEmbedder(g, embedderModel)
		return &genkitGenerator{g: g, model: geminiModel}, emb, nil

	case "openai":
		g := genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{APIKey: key}))
		if g == nil {
			return nil, nil, native.NewError(native.CodeInitConfigInvalid,
				"initializing generation runtime with openai provider")
		}
		return &genkitGenerator{g: g, model: openaiModel}, nil, nil

	case "groq":
		// Groq speaks the OpenAI wire protocol on its own base URL.
		c := goopenai.DefaultConfig(key)
		c.BaseURL = groqBaseURL
		c.HTTPClient = &http.Client{Timeout: 90 * time.Second}
		return &groqGenerator{client: goopenai.NewClientWithConfig(c), model: groqModel}, nil, nil

	default:
		return nil, nil, native.NewError(native.CodeInitConfigInvalid,
			"unknown provider %q", cfg.PreferredProvider)
	}
}

// genkitGenerator drives gemini and openai through one runtime.
type genkitGenerator struct {
	g     *genkit.Genkit
	model string
}

func (gg *genkitGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(system),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(prompt))),
	)
	if err != nil {
		return "", fmt.Errorf("generating response: %w", err)
	}
	return resp.Text(), nil
}

func (gg *genkitGenerator) Stream(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(system),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(prompt))),
		ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			return onDelta(chunk.Text())
		}),
	)
	if err != nil {
		return "", fmt.Errorf("generating streamed response: %w", err)
	}
	return resp.Text(), nil
}

// groqGenerator reaches Groq's OpenAI-compatible endpoint directly.
type groqGenerator struct {
	client *goopenai.Client
	model  string
}

func (gq *groqGenerator) messages(system, prompt string) []goopenai.ChatCompletionMessage {
	return []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: system},
		{Role: goopenai.ChatMessageRoleUser, Content: prompt},
	}
}

func (gq *groqGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := gq.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    gq.model,
		Messages: gq.messages(system, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("groq completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("groq completion: empty choice list")
	}
	return resp.Choices[0].Message.Content, nil
}

func (gq *groqGenerator) Stream(ctx context.Context, system, prompt string, onDelta func(string) error) (string, error) {
	stream, err := gq.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:    gq.model,
		Messages: gq.messages(system, prompt),
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("groq stream: %w", err)
	}
	defer stream.Close()

	var full string
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return full, nil
			}
			return "", fmt.Errorf("groq stream recv: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full += choice.Delta.Content
			if err := onDelta(choice.Delta.Content); err != nil {
				return "", err
			}
		}
	}
}
