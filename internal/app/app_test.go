package app

import (
	"context"
	"testing"

	"github.com/amanahlabs/fiqhbridge/internal/config"
	"github.com/amanahlabs/fiqhbridge/internal/fallback"
	"github.com/amanahlabs/fiqhbridge/internal/lifecycle"
	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// testConfig returns a config with no API keys, so engine initialization
// fails fast without any network access.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		PreferredProvider:  config.ProviderGemini,
		Language:           "en",
		InitTimeoutSeconds: 2,
		PollIntervalMillis: 1,
		CallTimeoutSeconds: 5,
		ServiceName:        "fiqhbridge-test",
		StoragePath:        t.TempDir(),
	}
}

func TestSetupNilConfig(t *testing.T) {
	if _, err := Setup(context.Background(), nil, log.NewNop()); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestSetupDegradesWithoutKeys(t *testing.T) {
	a, err := Setup(context.Background(), testConfig(t), log.NewNop())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = a.Close(context.Background()) }()

	// A missing API key is a structural init failure, not a timeout: the
	// lifecycle lands in Failed and Setup must still hand back a working app.
	if got := a.Lifecycle.State(); got != lifecycle.StateFailed {
		t.Fatalf("lifecycle state = %v, want %v without API keys", got, lifecycle.StateFailed)
	}
	if a.Lifecycle.FailureCause() == nil {
		t.Error("expected a recorded failure cause")
	}
	if a.Advisor == nil {
		t.Fatal("advisor must be usable even when the engine is degraded")
	}

	// Offline answers still flow through the advisor.
	resp, err := a.Advisor.Analyze(context.Background(), query.NewTextRequest(query.KindToken, "BTC", "en"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != fallback.Source {
		t.Errorf("sources = %v, want [%s]", resp.Sources, fallback.Source)
	}
	if resp.Confidence > fallback.MaxConfidence {
		t.Errorf("confidence = %v, want <= %v offline", resp.Confidence, fallback.MaxConfidence)
	}
}

func TestSetupOpensHistory(t *testing.T) {
	cfg := testConfig(t)
	a, err := Setup(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = a.Close(context.Background()) }()

	if a.History == nil {
		t.Error("expected history store with a storage path configured")
	}

	cfg2 := testConfig(t)
	cfg2.StoragePath = ""
	a2, err := Setup(context.Background(), cfg2, log.NewNop())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = a2.Close(context.Background()) }()

	if a2.History != nil {
		t.Error("expected nil history store without a storage path")
	}
}
