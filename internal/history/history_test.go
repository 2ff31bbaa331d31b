package history

import (
	"sync"
	"testing"

	"github.com/amanahlabs/fiqhbridge/internal/query"
)

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	req := query.NewTextRequest(query.KindText, "is riba haram", "en")
	resp := query.NewResponse(req.ID, "Yes, riba is prohibited.", 0.9, []string{"Quran 2:275"}, nil)
	if err := s.Append(req, resp); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	turns, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("Recent() returned %d turns, want 1", len(turns))
	}
	if turns[0].Question != "is riba haram" || turns[0].Answer != resp.Text {
		t.Errorf("turn = %+v", turns[0])
	}
	if turns[0].Kind != "analyze_text" {
		t.Errorf("Kind = %q", turns[0].Kind)
	}
}

func TestRecentLimitsAndOrders(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	questions := []string{"q1", "q2", "q3", "q4"}
	for _, q := range questions {
		req := query.NewTextRequest(query.KindChatMessage, q, "en")
		if err := s.Append(req, query.NewResponse(req.ID, "a", 0.8, nil, nil)); err != nil {
			t.Fatalf("Append(%q) error: %v", q, err)
		}
	}

	turns, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(turns) != 2 || turns[0].Question != "q3" || turns[1].Question != "q4" {
		t.Fatalf("Recent(2) = %+v", turns)
	}
}

func TestRecentMissingFile(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	turns, err := s.Recent(5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("Recent() = %+v, want empty", turns)
	}
}

func TestAudioQuestionRedacted(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	req := query.NewRequest(query.KindAudio, make([]byte, 1234), "en")
	if err := s.Append(req, query.NewResponse(req.ID, "answer", 0.7, nil, nil)); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	turns, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if turns[0].Question != "[audio, 1234 bytes]" {
		t.Errorf("Question = %q", turns[0].Question)
	}
}

func TestConcurrentAppends(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := query.NewTextRequest(query.KindText, "q", "en")
			if err := s.Append(req, query.NewResponse(req.ID, "a", 0.8, nil, nil)); err != nil {
				t.Errorf("Append() error: %v", err)
			}
		}()
	}
	wg.Wait()

	turns, err := s.Recent(n * 2)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(turns) != n {
		t.Fatalf("Recent() returned %d turns, want %d", len(turns), n)
	}
}
