// Package mcpserver exposes the advisory engine as MCP tools so external
// agents can request Sharia compliance analysis over the Model Context
// Protocol.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/amanahlabs/fiqhbridge/internal/advisor"
	"github.com/amanahlabs/fiqhbridge/internal/history"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// Tool names exposed over MCP.
const (
	ToolAnalyzeToken    = "analyze_token"
	ToolAskFiqh         = "ask_fiqh"
	ToolAnalyzeContract = "analyze_contract"
	ToolRecentHistory   = "recent_history"
)

// Config holds MCP server configuration.
type Config struct {
	Name     string
	Version  string
	Language string // answer language, defaults to query.DefaultLanguage
}

// Server wraps the MCP SDK server around the advisor.
type Server struct {
	mcpServer *mcp.Server
	adv       *advisor.Advisor
	hist      *history.Store // optional; enables recent_history when set
	language  string
	name      string
	version   string
}

// NewServer creates an MCP server exposing the advisory tools.
// hist may be nil; the recent_history tool is omitted then.
func NewServer(adv *advisor.Advisor, hist *history.Store, cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if adv == nil {
		return nil, fmt.Errorf("advisor is required")
	}
	if cfg.Language == "" {
		cfg.Language = query.DefaultLanguage
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		adv:      adv,
		hist:     hist,
		language: cfg.Language,
		name:     cfg.Name,
		version:  cfg.Version,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return s, nil
}

// Run starts the MCP server on the given transport.
// This is a blocking call that handles all MCP protocol communication.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// TokenInput is the input schema for analyze_token.
type TokenInput struct {
	Symbol string `json:"symbol" jsonschema:"Token ticker symbol to analyze, e.g. BTC"`
}

// QuestionInput is the input schema for ask_fiqh.
type QuestionInput struct {
	Question string `json:"question" jsonschema:"Free-form Islamic finance question"`
}

// ContractInput is the input schema for analyze_contract.
type ContractInput struct {
	Address string `json:"address" jsonschema:"Smart contract or mint address to analyze"`
}

// HistoryInput is the input schema for recent_history.
type HistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of past turns to return (default 10)"`
}

func (s *Server) registerTools() error {
	tokenSchema, err := jsonschema.For[TokenInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolAnalyzeToken, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAnalyzeToken,
		Description: "Analyze a cryptocurrency token for Sharia compliance. " +
			"Returns a verdict (Halal/Haram/Syubhat) with reasoning and sources.",
		InputSchema: tokenSchema,
	}, s.AnalyzeToken)

	questionSchema, err := jsonschema.For[QuestionInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolAskFiqh, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAskFiqh,
		Description: "Ask a free-form Islamic finance (fiqh muamalat) question. " +
			"Returns an answer with confidence and sources.",
		InputSchema: questionSchema,
	}, s.AskFiqh)

	contractSchema, err := jsonschema.For[ContractInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolAnalyzeContract, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAnalyzeContract,
		Description: "Analyze a smart contract address for Sharia compliance, " +
			"including on-chain supply data when available.",
		InputSchema: contractSchema,
	}, s.AnalyzeContract)

	if s.hist != nil {
		historySchema, err := jsonschema.For[HistoryInput](nil)
		if err != nil {
			return fmt.Errorf("schema for %s: %w", ToolRecentHistory, err)
		}
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        ToolRecentHistory,
			Description: "Return recent analysis turns from the local history log, oldest first.",
			InputSchema: historySchema,
		}, s.RecentHistory)
	}

	return nil
}

// AnalyzeToken handles the analyze_token MCP tool call.
func (s *Server) AnalyzeToken(ctx context.Context, _ *mcp.CallToolRequest, in TokenInput) (*mcp.CallToolResult, any, error) {
	symbol := strings.TrimSpace(in.Symbol)
	if symbol == "" {
		return errorResult("symbol is required"), nil, nil
	}
	return s.analyze(ctx, query.NewTextRequest(query.KindToken, symbol, s.language))
}

// AskFiqh handles the ask_fiqh MCP tool call.
func (s *Server) AskFiqh(ctx context.Context, _ *mcp.CallToolRequest, in QuestionInput) (*mcp.CallToolResult, any, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return errorResult("question is required"), nil, nil
	}
	return s.analyze(ctx, query.NewTextRequest(query.KindText, question, s.language))
}

// AnalyzeContract handles the analyze_contract MCP tool call.
func (s *Server) AnalyzeContract(ctx context.Context, _ *mcp.CallToolRequest, in ContractInput) (*mcp.CallToolResult, any, error) {
	address := strings.TrimSpace(in.Address)
	if address == "" {
		return errorResult("address is required"), nil, nil
	}
	return s.analyze(ctx, query.NewTextRequest(query.KindContract, address, s.language))
}

// RecentHistory handles the recent_history MCP tool call.
func (s *Server) RecentHistory(_ context.Context, _ *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}
	turns, err := s.hist.Recent(limit)
	if err != nil {
		return nil, nil, fmt.Errorf("reading history: %w", err)
	}

	if len(turns) == 0 {
		return textResult("No history recorded yet."), nil, nil
	}

	var b strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&b, "[%s] %s: %s\n→ %s\n\n",
			turn.CreatedAt.Format("2006-01-02 15:04"), turn.Kind, turn.Question, turn.Answer)
	}
	return textResult(strings.TrimSpace(b.String())), nil, nil
}

// analyze runs a single-shot advisory query and formats the response.
func (s *Server) analyze(ctx context.Context, req query.Request) (*mcp.CallToolResult, any, error) {
	resp, err := s.adv.Analyze(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s failed: %w", req.Kind, err)
	}

	var b strings.Builder
	b.WriteString(resp.Text)
	if len(resp.Sources) > 0 || resp.Confidence > 0 {
		fmt.Fprintf(&b, "\n\n(confidence %.0f%%", resp.Confidence*100)
		if len(resp.Sources) > 0 {
			fmt.Fprintf(&b, "; sources: %s", strings.Join(resp.Sources, ", "))
		}
		b.WriteString(")")
	}
	if len(resp.FollowUps) > 0 {
		b.WriteString("\n\nSuggested follow-ups:\n- " + strings.Join(resp.FollowUps, "\n- "))
	}
	return textResult(b.String()), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
