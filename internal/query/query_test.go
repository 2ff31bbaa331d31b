package query

import "testing"

func TestKindString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want string
	}{
		{KindToken, "analyze_token"},
		{KindText, "analyze_text"},
		{KindContract, "analyze_contract"},
		{KindAudio, "transcribe_and_analyze"},
		{KindChatMessage, "chat_message"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestNewRequestDefaults(t *testing.T) {
	t.Parallel()

	req := NewRequest(KindToken, []byte("BTC"), "")

	if req.Language != DefaultLanguage {
		t.Errorf("empty language should default to %q, got %q", DefaultLanguage, req.Language)
	}
	if req.ID == "" {
		t.Error("request ID must be assigned")
	}
	if req.Text() != "BTC" {
		t.Errorf("Text() = %q, want BTC", req.Text())
	}
}

func TestNewRequestUniqueIDs(t *testing.T) {
	t.Parallel()

	a := NewTextRequest(KindText, "is riba permitted?", "en")
	b := NewTextRequest(KindText, "is riba permitted?", "en")

	if a.ID == b.ID {
		t.Error("each request must get its own ID")
	}
}

func TestNewResponseStampsTime(t *testing.T) {
	t.Parallel()

	resp := NewResponse("req-1", "answer", 0.9, []string{"Islamic Finance Analysis"}, nil)

	if resp.CreatedAt.IsZero() {
		t.Error("CreatedAt must be stamped")
	}
	if resp.ID != "req-1" {
		t.Errorf("ID = %q, want req-1", resp.ID)
	}
}
