// Package history persists completed advisory turns as JSON lines under the
// configured storage directory. A file lock serializes writers across
// processes sharing the same directory.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/amanahlabs/fiqhbridge/internal/query"
)

const (
	historyFile = "history.jsonl"
	lockFile    = "history.lock"
)

// Turn is one completed question/answer pair.
type Turn struct {
	RequestID      string    `json:"request_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Kind           string    `json:"kind"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	Confidence     float64   `json:"confidence"`
	Sources        []string  `json:"sources,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store appends and reads advisory history. Safe for concurrent use across
// goroutines and processes.
type Store struct {
	path string
	lock *flock.Flock
}

// Open prepares the storage directory and its lock file.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return &Store{
		path: filepath.Join(dir, historyFile),
		lock: flock.New(filepath.Join(dir, lockFile)),
	}, nil
}

// Append records a completed turn.
func (s *Store) Append(req query.Request, resp *query.Response) error {
	turn := Turn{
		RequestID:      req.ID,
		ConversationID: req.ConversationID,
		Kind:           req.Kind.String(),
		Question:       req.Text(),
		Answer:         resp.Text,
		Confidence:     resp.Confidence,
		Sources:        resp.Sources,
		CreatedAt:      resp.CreatedAt,
	}
	if req.Kind == query.KindAudio {
		turn.Question = fmt.Sprintf("[audio, %d bytes]", len(req.Payload))
	}

	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encoding history turn: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking history: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening history file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing history turn: %w", err)
	}
	return nil
}

// Recent returns the last n turns, oldest first. A missing history file
// yields an empty slice.
func (s *Store) Recent(n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}

	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("locking history: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var turns []Turn
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var t Turn
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			// Skip torn or hand-edited lines rather than losing the rest.
			continue
		}
		turns = append(turns, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading history file: %w", err)
	}

	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}
