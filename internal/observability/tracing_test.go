package observability

import (
	"context"
	"testing"
	"time"

	"github.com/amanahlabs/fiqhbridge/internal/log"
)

func TestSetupReturnsShutdown(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{
		Endpoint:    "localhost:4318",
		ServiceName: "fiqhbridge-test",
		Environment: "test",
	}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown function")
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	// No collector is listening; shutdown must still return promptly.
	_ = shutdown(sctx)
}

func TestSetupDefaultsEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "fiqhbridge-test"}, log.NewNop())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown function")
	}
}
