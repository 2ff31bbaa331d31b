// Package fallback produces deterministic offline answers for every query
// kind. It is the degraded-mode twin of the advisory engine: when no
// subsystem handle exists, the facade answers from here instead of failing.
//
// Responses are marked with the single source "fallback" and a confidence of
// at most 0.7 so downstream UI can signal reduced trust without a hard error.
package fallback

import (
	"fmt"
	"strings"

	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// Source is the provenance marker carried by every fallback response.
const Source = "fallback"

// MaxConfidence bounds every confidence value produced here.
const MaxConfidence = 0.7

// tokenVerdict is a canned per-token ruling.
type tokenVerdict struct {
	name       string
	ruling     string
	confidence float64
	reasoning  []string
	references []string
	followUps  []string
}

// Canned rulings for well-known tokens. Unknown tickers get the generic
// speculative-asset answer.
var tokenVerdicts = map[string]tokenVerdict{
	"SOL": {
		name:       "Solana",
		ruling:     "Halal (Permissible)",
		confidence: 0.7,
		reasoning: []string{
			"Utility token for blockchain infrastructure",
			"No direct involvement in riba-based activities",
			"Supports halal applications and services",
		},
		references: []string{
			"AAOIFI Sharia Standard No. 17",
			"Islamic Finance Council guidance on utility tokens",
		},
		followUps: []string{
			"Is staking SOL permissible?",
			"How does Solana differ from interest-bearing assets?",
		},
	},
	"BTC": {
		name:       "Bitcoin",
		ruling:     "Haram (Prohibited)",
		confidence: 0.7,
		reasoning: []string{
			"Highly speculative nature (gharar)",
			"Often used for gambling and speculation",
			"No intrinsic utility or backing",
		},
		references: []string{
			"Fatwa by Grand Mufti of Egypt",
			"Islamic Finance Council concerns on speculation",
		},
		followUps: []string{
			"Are any cryptocurrencies considered halal?",
			"What makes an asset speculative under Sharia?",
		},
	},
	"USDC": {
		name:       "USD Coin",
		ruling:     "Conditionally Permissible",
		confidence: 0.65,
		reasoning: []string{
			"Fully collateralized US dollar stablecoin",
			"Low volatility reduces gharar concerns",
			"Reserves may be held in interest-bearing instruments",
		},
		references: []string{
			"AAOIFI Sharia Standard No. 1 on currency trading",
		},
		followUps: []string{
			"Do stablecoin reserves involve riba?",
		},
	},
}

// topic is one keyword-matched canned answer for free-form questions.
type topic struct {
	keywords   []string
	answer     string
	confidence float64
	followUps  []string
}

var topics = []topic{
	{
		keywords:   []string{"riba", "interest", "loan", "lending"},
		confidence: 0.7,
		answer: "Riba (interest) is prohibited in Islamic finance. Any guaranteed " +
			"return on a loan, regardless of the outcome of the financed venture, " +
			"falls under this prohibition. Profit must come from trade or shared " +
			"risk, as in murabaha or musharakah structures.",
		followUps: []string{
			"What financing structures avoid riba?",
			"Is a conventional mortgage permissible?",
		},
	},
	{
		keywords:   []string{"gharar", "uncertainty", "speculation", "derivative"},
		confidence: 0.7,
		answer: "Gharar refers to excessive uncertainty in a contract. Transactions " +
			"whose subject matter, price, or delivery is unknown or highly " +
			"speculative are not permitted. Moderate commercial risk is " +
			"acceptable; gambling-like uncertainty is not.",
		followUps: []string{
			"How much uncertainty makes a contract invalid?",
		},
	},
	{
		keywords:   []string{"zakat", "charity", "alms"},
		confidence: 0.7,
		answer: "Zakat is an obligatory levy of 2.5% on qualifying wealth held for " +
			"a full lunar year above the nisab threshold. Crypto assets held as " +
			"investments are generally treated like trade goods for zakat purposes.",
		followUps: []string{
			"How do I calculate zakat on crypto holdings?",
		},
	},
	{
		keywords:   []string{"maysir", "gambling", "lottery", "betting"},
		confidence: 0.7,
		answer: "Maysir (gambling) is prohibited: acquiring wealth by chance at " +
			"another party's loss, with no productive exchange. This covers " +
			"lotteries, betting, and structures whose substance is a wager.",
		followUps: []string{
			"Is trading with leverage a form of maysir?",
		},
	},
	{
		keywords:   []string{"staking", "yield", "farming"},
		confidence: 0.65,
		answer: "Staking rewards are debated among contemporary scholars. Rewards " +
			"for validating a network service are closer to a fee for work and " +
			"widely viewed as permissible; fixed guaranteed yields on deposited " +
			"tokens resemble riba and should be avoided.",
		followUps: []string{
			"Which staking arrangements resemble riba?",
		},
	},
}

// generalAnswer serves questions matching no topic.
const generalAnswer = "This is an offline answer produced without the advisory " +
	"engine. General guidance: Islamic finance prohibits riba (interest), " +
	"excessive gharar (uncertainty), and maysir (gambling), and requires real " +
	"economic activity behind a transaction. Please consult qualified Islamic " +
	"scholars for guidance on your specific situation."

// Generator produces deterministic canned answers keyed by topic heuristics.
// The zero value is ready to use; it holds no state.
type Generator struct{}

// New returns a Generator.
func New() *Generator { return &Generator{} }

// Generate answers the request deterministically.
// Same request content always yields the same text and confidence.
func (g *Generator) Generate(req query.Request) *query.Response {
	switch req.Kind {
	case query.KindToken:
		return g.tokenAnswer(req, strings.ToUpper(strings.TrimSpace(req.Text())))
	case query.KindContract:
		return g.contractAnswer(req)
	case query.KindAudio:
		return g.textAnswer(req, TranscribeAudio(req.Payload))
	default:
		return g.textAnswer(req, req.Text())
	}
}

func (g *Generator) tokenAnswer(req query.Request, symbol string) *query.Response {
	if v, ok := tokenVerdicts[symbol]; ok {
		var b strings.Builder
		fmt.Fprintf(&b, "%s (%s) Analysis\n\nRuling: %s\n\nReasoning:\n", v.name, symbol, v.ruling)
		for _, r := range v.reasoning {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\nReferences:\n")
		for _, r := range v.references {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\nConsult qualified Islamic scholars for personalized guidance.")
		return response(req, b.String(), v.confidence, v.followUps)
	}

	text := fmt.Sprintf("%s Analysis\n\nRuling: Haram (Prohibited)\n\n"+
		"Reasoning: Excessive volatility and speculation make %s problematic "+
		"under Islamic finance principles. The lack of intrinsic value and "+
		"speculative nature conflict with Sharia guidelines on risk and "+
		"uncertainty (gharar).\n\nRecommendation: Consult with qualified "+
		"Islamic scholars for personalized guidance.", symbol, symbol)
	return response(req, text, 0.6, []string{
		"Are any cryptocurrencies considered halal?",
	})
}

func (g *Generator) contractAnswer(req query.Request) *query.Response {
	text := fmt.Sprintf("Contract %s cannot be inspected offline. Without "+
		"on-chain data, no compliance ruling can be given. Verify that the "+
		"contract involves no interest-bearing mechanics, no gambling-like "+
		"payouts, and a real underlying utility before use.", req.Text())
	return response(req, text, 0.5, []string{
		"What contract mechanics indicate riba?",
	})
}

func (g *Generator) textAnswer(req query.Request, text string) *query.Response {
	lower := strings.ToLower(text)
	for _, tp := range topics {
		for _, kw := range tp.keywords {
			if strings.Contains(lower, kw) {
				return response(req, tp.answer, tp.confidence, tp.followUps)
			}
		}
	}
	return response(req, generalAnswer, 0.5, []string{
		"What are the core prohibitions in Islamic finance?",
	})
}

// TranscribeAudio is the deterministic offline transcription: audio content is
// bucketed by size, matching the engine's mock speech-to-text behavior.
func TranscribeAudio(audio []byte) string {
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

func response(req query.Request, text string, confidence float64, followUps []string) *query.Response {
	if confidence > MaxConfidence {
		confidence = MaxConfidence
	}
	return query.NewResponse(req.ID, text, confidence, []string{Source}, followUps)
}
