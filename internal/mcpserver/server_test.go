package mcpserver

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/amanahlabs/fiqhbridge/internal/advisor"
	"github.com/amanahlabs/fiqhbridge/internal/fallback"
	"github.com/amanahlabs/fiqhbridge/internal/history"
	"github.com/amanahlabs/fiqhbridge/internal/lifecycle"
	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/query"
	"github.com/amanahlabs/fiqhbridge/internal/testutil"
)

// newOfflineAdvisor builds an advisor with no engine handle, so answers come
// from the offline generator and tests need no network or API keys.
func newOfflineAdvisor(t *testing.T) *advisor.Advisor {
	t.Helper()
	logger := log.NewNop()
	b := &testutil.FakeBoundary{}
	lc := lifecycle.New(b, logger, lifecycle.Options{})
	adapter := native.NewAdapter(b, logger, time.Millisecond)
	return advisor.New(lc, adapter, fallback.New(), logger, advisor.Options{})
}

func validConfig() Config {
	return Config{Name: "fiqhbridge-test", Version: "0.1.0", Language: "en"}
}

// connectServer wires a server and an SDK client over in-memory transports.
func connectServer(t *testing.T, hist *history.Store) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(newOfflineAdvisor(t), hist, validConfig())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", result.Content[0])
	}
	return tc.Text
}

func TestNewServerValidation(t *testing.T) {
	adv := newOfflineAdvisor(t)

	if _, err := NewServer(adv, nil, Config{Version: "1.0.0"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := NewServer(adv, nil, Config{Name: "x"}); err == nil {
		t.Error("expected error for missing version")
	}
	if _, err := NewServer(nil, nil, validConfig()); err == nil {
		t.Error("expected error for nil advisor")
	}
}

func TestListTools(t *testing.T) {
	session := connectServer(t, nil)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	// recent_history is absent without a history store.
	want := []string{ToolAnalyzeContract, ToolAnalyzeToken, ToolAskFiqh}
	sort.Strings(want)
	if len(names) != len(want) {
		t.Fatalf("got %d tools %v, want %v", len(names), names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("tool[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestListToolsWithHistory(t *testing.T) {
	hist, err := history.Open(t.TempDir())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	session := connectServer(t, hist)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(result.Tools) != 4 {
		t.Fatalf("got %d tools, want 4 with history enabled", len(result.Tools))
	}
}

func TestAnalyzeTokenOffline(t *testing.T) {
	session := connectServer(t, nil)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolAnalyzeToken,
		Arguments: map[string]any{"symbol": "BTC"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, result))
	}

	text := textOf(t, result)
	if !strings.Contains(text, "sources: "+fallback.Source) {
		t.Errorf("offline answer should cite the fallback source, got: %s", text)
	}
}

func TestAnalyzeTokenRequiresSymbol(t *testing.T) {
	session := connectServer(t, nil)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolAnalyzeToken,
		Arguments: map[string]any{"symbol": "  "},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError for blank symbol")
	}
}

func TestRecentHistoryTool(t *testing.T) {
	dir := t.TempDir()
	hist, err := history.Open(dir)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}

	req := query.NewTextRequest(query.KindText, "What is riba?", "en")
	resp := query.NewResponse(req.ID, "Riba is prohibited interest.", 0.9, []string{"test"}, nil)
	if err := hist.Append(req, resp); err != nil {
		t.Fatalf("Append: %v", err)
	}

	session := connectServer(t, hist)
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolRecentHistory,
		Arguments: map[string]any{"limit": 5},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	text := textOf(t, result)
	if !strings.Contains(text, "What is riba?") || !strings.Contains(text, "Riba is prohibited interest.") {
		t.Errorf("history output missing turn: %s", text)
	}
}
