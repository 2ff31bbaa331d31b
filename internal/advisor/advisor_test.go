package advisor_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/amanahlabs/fiqhbridge/internal/advisor"
	"github.com/amanahlabs/fiqhbridge/internal/fallback"
	"github.com/amanahlabs/fiqhbridge/internal/lifecycle"
	"github.com/amanahlabs/fiqhbridge/internal/log"
	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/query"
	"github.com/amanahlabs/fiqhbridge/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newDegraded builds an advisor whose lifecycle never produced a handle.
func newDegraded(t *testing.T, opts advisor.Options) *advisor.Advisor {
	t.Helper()
	b := &testutil.FakeBoundary{}
	lc := lifecycle.New(b, log.NewNop(), lifecycle.Options{})
	ad := native.NewAdapter(b, log.NewNop(), time.Millisecond)
	return advisor.New(lc, ad, fallback.New(), log.NewNop(), opts)
}

// newReady builds an advisor backed by an initialized fake engine.
func newReady(t *testing.T, b *testutil.FakeBoundary, opts advisor.Options) *advisor.Advisor {
	t.Helper()
	lc := lifecycle.New(b, log.NewNop(), lifecycle.Options{
		InitTimeout:  time.Second,
		PollInterval: time.Millisecond,
	})
	st, err := lc.Initialize(context.Background(), native.Config{})
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if st != lifecycle.StateReady {
		t.Fatalf("Initialize() state = %v, want Ready", st)
	}
	t.Cleanup(lc.Teardown)
	ad := native.NewAdapter(b, log.NewNop(), time.Millisecond)
	return advisor.New(lc, ad, fallback.New(), log.NewNop(), opts)
}

// collector gathers stream events behind one mutex.
type collector struct {
	mu       sync.Mutex
	chunks   []string
	resp     *query.Response
	err      error
	terminal chan struct{}
	settled  int
}

func newCollector() *collector {
	return &collector{terminal: make(chan struct{})}
}

func (c *collector) callbacks() advisor.Callbacks {
	return advisor.Callbacks{
		OnChunk: func(cumulative string) {
			c.mu.Lock()
			c.chunks = append(c.chunks, cumulative)
			c.mu.Unlock()
		},
		OnComplete: func(resp *query.Response) {
			c.mu.Lock()
			c.resp = resp
			c.settled++
			c.mu.Unlock()
			close(c.terminal)
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.err = err
			c.settled++
			c.mu.Unlock()
			close(c.terminal)
		},
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never settled")
	}
}

func TestAnalyzeDegradedUsesFallback(t *testing.T) {
	a := newDegraded(t, advisor.Options{})

	req := query.NewTextRequest(query.KindToken, "BTC", "en")
	resp, err := a.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != fallback.Source {
		t.Errorf("Sources = %v, want [%q]", resp.Sources, fallback.Source)
	}
	if resp.Confidence > fallback.MaxConfidence {
		t.Errorf("Confidence = %v, want <= %v", resp.Confidence, fallback.MaxConfidence)
	}
	if !strings.Contains(resp.Text, "Haram") {
		t.Errorf("BTC fallback verdict missing ruling: %q", resp.Text)
	}
}

func TestAnalyzeReadyUsesEngine(t *testing.T) {
	b := &testutil.FakeBoundary{
		InvokeFn: func(op string, req query.Request) (*query.Response, error) {
			if op != "analyze_token" {
				t.Errorf("op = %q, want analyze_token", op)
			}
			return query.NewResponse(req.ID, "engine verdict", 0.93,
				[]string{"AAOIFI Sharia Standard 17"}, nil), nil
		},
	}
	a := newReady(t, b, advisor.Options{})

	resp, err := a.Analyze(context.Background(), query.NewTextRequest(query.KindToken, "SOL", "en"))
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if resp.Text != "engine verdict" {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(resp.Sources) == 1 && resp.Sources[0] == fallback.Source {
		t.Error("ready path answered from fallback")
	}
}

func TestAnalyzeReadySurfacesNativeError(t *testing.T) {
	b := &testutil.FakeBoundary{
		InvokeFn: func(string, query.Request) (*query.Response, error) {
			return nil, native.NewError(native.CodeNativeError, "model overloaded")
		},
	}
	a := newReady(t, b, advisor.Options{})

	_, err := a.Analyze(context.Background(), query.NewTextRequest(query.KindText, "is riba haram", "en"))
	if !errors.Is(err, native.ErrNativeError) {
		t.Fatalf("Analyze() error = %v, want ErrNativeError", err)
	}
}

func TestAnalyzeStreamNativeCumulativeText(t *testing.T) {
	authoritative := query.NewResponse("", "Riba is prohibited in all madhabs.", 0.95,
		[]string{"Quran 2:275"}, nil)
	b := &testutil.FakeBoundary{
		StreamScript:   []string{"Riba ", "is ", "prohibited."},
		StreamResponse: authoritative,
	}
	a := newReady(t, b, advisor.Options{})

	c := newCollector()
	req := query.NewTextRequest(query.KindChatMessage, "what is riba", "en")
	if err := a.AnalyzeStream(context.Background(), req, c.callbacks()); err != nil {
		t.Fatalf("AnalyzeStream() error: %v", err)
	}
	c.wait(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		t.Fatalf("stream failed: %v", c.err)
	}
	want := []string{"Riba ", "Riba is ", "Riba is prohibited."}
	if len(c.chunks) != len(want) {
		t.Fatalf("chunks = %v, want %v", c.chunks, want)
	}
	for i := range want {
		if c.chunks[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, c.chunks[i], want[i])
		}
	}
	// The completion payload wins over the accumulated buffer.
	if c.resp.Text != authoritative.Text {
		t.Errorf("final text = %q, want %q", c.resp.Text, authoritative.Text)
	}
	if c.settled != 1 {
		t.Errorf("settled %d times, want 1", c.settled)
	}
}

func TestAnalyzeStreamSequenceGapFailsStream(t *testing.T) {
	b := &testutil.FakeBoundary{
		StreamScript:         []string{"first", "second"},
		StreamSequenceOffset: 1, // chunks arrive as 1,2 while 0 is expected
	}
	a := newReady(t, b, advisor.Options{})

	c := newCollector()
	req := query.NewTextRequest(query.KindChatMessage, "hello", "en")
	if err := a.AnalyzeStream(context.Background(), req, c.callbacks()); err != nil {
		t.Fatalf("AnalyzeStream() error: %v", err)
	}
	c.wait(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !errors.Is(c.err, native.ErrProtocolViolation) {
		t.Fatalf("stream error = %v, want ErrProtocolViolation", c.err)
	}
	if len(c.chunks) != 0 {
		t.Errorf("chunks delivered after violation: %v", c.chunks)
	}
	if c.settled != 1 {
		t.Errorf("settled %d times, want 1", c.settled)
	}
}

func TestAnalyzeStreamFallbackShape(t *testing.T) {
	a := newDegraded(t, advisor.Options{FallbackCadence: time.Millisecond})

	c := newCollector()
	req := query.NewTextRequest(query.KindText, "is staking halal", "en")
	if err := a.AnalyzeStream(context.Background(), req, c.callbacks()); err != nil {
		t.Fatalf("AnalyzeStream() error: %v", err)
	}
	c.wait(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		t.Fatalf("stream failed: %v", c.err)
	}
	if len(c.chunks) == 0 {
		t.Fatal("no chunks before the terminal event")
	}
	for i := 1; i < len(c.chunks); i++ {
		if !strings.HasPrefix(c.chunks[i], c.chunks[i-1]) {
			t.Errorf("cumulative text regressed at %d: %q -> %q", i, c.chunks[i-1], c.chunks[i])
		}
	}
	if last := c.chunks[len(c.chunks)-1]; last != c.resp.Text {
		t.Errorf("final cumulative %q != completion text %q", last, c.resp.Text)
	}
	if len(c.resp.Sources) != 1 || c.resp.Sources[0] != fallback.Source {
		t.Errorf("Sources = %v, want [%q]", c.resp.Sources, fallback.Source)
	}
	if c.settled != 1 {
		t.Errorf("settled %d times, want 1", c.settled)
	}
}

func TestAnalyzeStreamFallbackCancellation(t *testing.T) {
	a := newDegraded(t, advisor.Options{FallbackCadence: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	c := newCollector()
	req := query.NewTextRequest(query.KindToken, "BTC", "en")
	if err := a.AnalyzeStream(ctx, req, c.callbacks()); err != nil {
		t.Fatalf("AnalyzeStream() error: %v", err)
	}
	cancel()
	c.wait(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !errors.Is(c.err, native.ErrCallCancelled) {
		t.Fatalf("stream error = %v, want ErrCallCancelled", c.err)
	}
	if c.settled != 1 {
		t.Errorf("settled %d times, want 1", c.settled)
	}
}

func TestAnalyzeStreamSupersession(t *testing.T) {
	a := newDegraded(t, advisor.Options{FallbackCadence: 10 * time.Millisecond})

	first := newCollector()
	firstChunk := make(chan struct{})
	var once sync.Once
	cb := first.callbacks()
	userChunk := cb.OnChunk
	cb.OnChunk = func(s string) {
		userChunk(s)
		once.Do(func() { close(firstChunk) })
	}

	req := query.NewTextRequest(query.KindToken, "BTC", "en")
	req.ConversationID = "conv-1"
	if err := a.AnalyzeStream(context.Background(), req, cb); err != nil {
		t.Fatalf("AnalyzeStream() error: %v", err)
	}
	select {
	case <-firstChunk:
	case <-time.After(5 * time.Second):
		t.Fatal("first stream produced no chunk")
	}

	// Same conversation: the first stream is superseded.
	second := newCollector()
	req2 := query.NewTextRequest(query.KindText, "is zakat due on crypto", "en")
	req2.ConversationID = "conv-1"
	if err := a.AnalyzeStream(context.Background(), req2, second.callbacks()); err != nil {
		t.Fatalf("AnalyzeStream() error: %v", err)
	}
	second.wait(t)

	// Give the superseded stream a moment; it must stay silent.
	time.Sleep(50 * time.Millisecond)

	first.mu.Lock()
	firstSettled := first.settled
	first.mu.Unlock()
	if firstSettled != 0 {
		t.Errorf("superseded stream delivered a terminal event")
	}

	second.mu.Lock()
	defer second.mu.Unlock()
	if second.err != nil {
		t.Fatalf("second stream failed: %v", second.err)
	}
	if second.settled != 1 {
		t.Errorf("second stream settled %d times, want 1", second.settled)
	}
}

func TestAnalyzeStreamIndependentConversations(t *testing.T) {
	a := newDegraded(t, advisor.Options{FallbackCadence: time.Millisecond})

	c1, c2 := newCollector(), newCollector()
	req1 := query.NewTextRequest(query.KindText, "riba", "en")
	req1.ConversationID = "conv-a"
	req2 := query.NewTextRequest(query.KindText, "zakat", "en")
	req2.ConversationID = "conv-b"

	if err := a.AnalyzeStream(context.Background(), req1, c1.callbacks()); err != nil {
		t.Fatalf("AnalyzeStream() error: %v", err)
	}
	if err := a.AnalyzeStream(context.Background(), req2, c2.callbacks()); err != nil {
		t.Fatalf("AnalyzeStream() error: %v", err)
	}
	c1.wait(t)
	c2.wait(t)

	c1.mu.Lock()
	defer c1.mu.Unlock()
	c2.mu.Lock()
	defer c2.mu.Unlock()
	if c1.settled != 1 || c2.settled != 1 {
		t.Errorf("settled = %d, %d; want 1, 1", c1.settled, c2.settled)
	}
	if c1.err != nil || c2.err != nil {
		t.Errorf("errors = %v, %v", c1.err, c2.err)
	}
}
