package stream

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

func TestFeedAccumulatesInOrder(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	parts := []string{"Riba ", "is ", "prohibited."}

	var last Result
	for i, p := range parts {
		last = a.Feed(query.Chunk{Sequence: uint64(i), Content: p})
		if last.IsFinal {
			t.Fatalf("snapshot %d unexpectedly final", i)
		}
	}

	if last.AccumulatedText != "Riba is prohibited." {
		t.Errorf("accumulated = %q", last.AccumulatedText)
	}
}

// Cumulative snapshots must be prefix-compatible extensions of each other.
func TestSnapshotsArePrefixCompatible(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	prev := ""
	for i, p := range []string{"a", "bc", "", "def"} {
		res := a.Feed(query.Chunk{Sequence: uint64(i), Content: p})
		if len(res.AccumulatedText) < len(prev) {
			t.Fatalf("snapshot shrank: %q -> %q", prev, res.AccumulatedText)
		}
		if !strings.HasPrefix(res.AccumulatedText, prev) {
			t.Fatalf("snapshot %q does not extend %q", res.AccumulatedText, prev)
		}
		prev = res.AccumulatedText
	}
}

func TestSequenceGapFailsAggregation(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	a.Feed(query.Chunk{Sequence: 0, Content: "x"})
	a.Feed(query.Chunk{Sequence: 1, Content: "y"})

	res := a.Feed(query.Chunk{Sequence: 3, Content: "z"})
	if !res.IsFinal {
		t.Fatal("gap must finalize the aggregation")
	}
	if !errors.Is(res.Err, native.ErrProtocolViolation) {
		t.Fatalf("err = %v, want ErrProtocolViolation", res.Err)
	}

	// No further chunks are processed.
	after := a.Feed(query.Chunk{Sequence: 2, Content: "w"})
	if !after.IsFinal || after.AccumulatedText != "xy" {
		t.Errorf("post-violation feed mutated state: %+v", after)
	}
}

func TestDuplicateSequenceFailsAggregation(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	a.Feed(query.Chunk{Sequence: 0, Content: "x"})

	res := a.Feed(query.Chunk{Sequence: 0, Content: "x"})
	if !errors.Is(res.Err, native.ErrProtocolViolation) {
		t.Fatalf("duplicate sequence must be a protocol violation, got %v", res.Err)
	}
}

// Completion carries its own authoritative payload which may differ from the
// concatenation of chunks.
func TestCompleteUsesAuthoritativeText(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	a.Feed(query.Chunk{Sequence: 0, Content: "draft answ"})

	final := query.NewResponse("id", "revised final answer", 0.9, []string{"Groq AI"}, nil)
	res := a.Complete(final)

	if !res.IsFinal || res.Response == nil {
		t.Fatal("Complete must produce a final result with a response")
	}
	if res.Response.Text != "revised final answer" {
		t.Errorf("final text = %q, want authoritative payload", res.Response.Text)
	}
	if res.AccumulatedText != "draft answ" {
		t.Errorf("accumulated = %q, buffer must stay as-is", res.AccumulatedText)
	}
}

func TestFinalizationIsIdempotent(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	first := a.Fail(native.NewError(native.CodeCallTimeout, "slow"))
	second := a.Complete(query.NewResponse("id", "late", 1, nil, nil))

	if second.Response != nil {
		t.Error("completion after failure must not override the terminal result")
	}
	if !errors.Is(second.Err, first.Err) {
		t.Error("terminal result must be stable across repeated finalization")
	}
}

func TestConcurrentFeedsAreSerialized(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	var wg sync.WaitGroup
	// Concurrent feeds with colliding sequence numbers: no panics, and the
	// aggregator must end either still-open or finalized by a violation.
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Feed(query.Chunk{Sequence: uint64(i % 2), Content: "c"})
		}()
	}
	wg.Wait()

	// The buffer must be a repetition of "c" (no interleaved corruption).
	if txt := a.Text(); strings.Trim(txt, "c") != "" {
		t.Errorf("corrupted buffer: %q", txt)
	}
}
