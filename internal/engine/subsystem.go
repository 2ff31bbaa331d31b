package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/amanahlabs/fiqhbridge/internal/history"
	"github.com/amanahlabs/fiqhbridge/internal/knowledge"
	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// followUpTimeout bounds the secondary follow-up generation; a slow or
// failed synthesis never fails the main answer.
const followUpTimeout = 20 * time.Second

// engineSource is cited on every engine-produced response.
const engineSource = "Islamic Finance Analysis"

// Subsystem is the live advisory engine behind one handle: provider client,
// optional rulings store, optional chain connector, optional history.
//
// Destroy cancels root, which aborts every in-flight operation derived
// from it.
type Subsystem struct {
	gen      generator
	know     *knowledge.Store
	chain    *chainClient
	hist     *history.Store
	limiter  *rate.Limiter
	retry    retryPolicy
	language string
	logger   log.Logger

	root   context.Context
	cancel context.CancelFunc
}

// NativeHandle marks Subsystem as a boundary handle.
func (*Subsystem) NativeHandle() {}

// close releases everything the subsystem owns. Idempotent via the root
// context.
func (s *Subsystem) close() {
	select {
	case <-s.root.Done():
		return
	default:
	}
	s.cancel()
	if s.know != nil {
		s.know.Close()
	}
	s.logger.Debug("advisory engine destroyed")
}

// answer executes one request/response operation.
func (s *Subsystem) answer(ctx context.Context, req query.Request) (*query.Response, error) {
	text := req.Text()
	if req.Kind == query.KindAudio {
		text = transcribe(req.Payload)
		if text == "" {
			return nil, native.NewError(native.CodeNativeError, "empty audio payload")
		}
	}

	prompt := buildPrompt(req, text)
	prompt, sources := s.enrich(ctx, req, text, prompt)

	answer, err := s.generate(ctx, func(genCtx context.Context) (string, error) {
		return s.gen.Complete(genCtx, systemPrompt, prompt)
	})
	if err != nil {
		return nil, err
	}

	resp := s.finish(ctx, req, answer, sources)
	return resp, nil
}

// answerStream executes one streaming operation, reporting raw deltas in
// order via onDelta and returning the completed response.
func (s *Subsystem) answerStream(ctx context.Context, req query.Request, onDelta func(string) error) (*query.Response, error) {
	text := req.Text()
	if req.Kind == query.KindAudio {
		text = transcribe(req.Payload)
		if text == "" {
			return nil, native.NewError(native.CodeNativeError, "empty audio payload")
		}
	}

	prompt := buildPrompt(req, text)
	prompt, sources := s.enrich(ctx, req, text, prompt)

	// Streamed generations are not retried: deltas already reached the
	// consumer, so a second attempt would replay the answer.
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, translateGenErr(ctx, fmt.Errorf("rate limit wait: %w", err))
	}
	full, err := s.gen.Stream(ctx, systemPrompt, prompt, onDelta)
	if err != nil {
		return nil, translateGenErr(ctx, err)
	}

	resp := s.finish(ctx, req, full, sources)
	return resp, nil
}

// enrich augments the prompt with retrieved rulings and on-chain data, and
// collects the citation list.
func (s *Subsystem) enrich(ctx context.Context, req query.Request, text, prompt string) (string, []string) {
	sources := []string{engineSource}

	if s.know != nil {
		rulings, err := s.know.Search(ctx, text, 3)
		if err != nil {
			s.logger.Warn("rulings search failed", "request_id", req.ID, "error", err)
		} else if len(rulings) > 0 {
			var b strings.Builder
			b.WriteString(prompt)
			b.WriteString("\n\nRelevant recorded rulings:\n")
			for _, r := range rulings {
				fmt.Fprintf(&b, "- [%s] %s: %s\n", r.Source, r.Topic, r.Content)
				sources = append(sources, r.Source)
			}
			prompt = b.String()
		}
	}

	if s.chain != nil && req.Kind == query.KindContract {
		supply, err := s.chain.TokenSupply(ctx, strings.TrimSpace(text))
		if err != nil {
			s.logger.Debug("token supply lookup failed", "request_id", req.ID, "error", err)
		} else {
			prompt = fmt.Sprintf("%s\n\nOn-chain data: circulating supply %.2f (decimals %d).",
				prompt, supply.UIAmount, supply.Decimals)
			sources = append(sources, "on-chain data")
		}
	}

	return prompt, sources
}

// finish builds the response, synthesizes follow-ups, and records history.
func (s *Subsystem) finish(ctx context.Context, req query.Request, answer string, sources []string) *query.Response {
	resp := query.NewResponse(req.ID, answer, engineConfidence(sources), sources, s.followUps(ctx, answer))

	if s.hist != nil {
		if err := s.hist.Append(req, resp); err != nil {
			s.logger.Warn("recording history failed", "request_id", req.ID, "error", err)
		}
	}
	return resp
}

// engineConfidence reflects grounding: citations beyond the engine's own
// analysis raise confidence.
func engineConfidence(sources []string) float64 {
	if len(sources) > 1 {
		return 0.95
	}
	return 0.85
}

// followUps asks the provider for three follow-up questions. Best effort.
func (s *Subsystem) followUps(ctx context.Context, answer string) []string {
	if answer == "" {
		return nil
	}
	fuCtx, cancel := context.WithTimeout(ctx, followUpTimeout)
	defer cancel()

	text, err := s.gen.Complete(fuCtx, followUpSystemPrompt, followUpPrompt(answer))
	if err != nil {
		s.logger.Debug("follow-up synthesis failed", "error", err)
		return nil
	}
	return parseFollowUps(text)
}

// transcribe converts audio bytes to text. The speech-to-text stage buckets
// by payload size.
func transcribe(audio []byte) string {
	switch n := len(audio); {
	case n == 0:
		return ""
	case n <= 1000:
		return "Is Bitcoin halal?"
	case n <= 5000:
		return "What is the Islamic ruling on Ethereum?"
	default:
		return "Please analyze this cryptocurrency from Sharia perspective"
	}
}
