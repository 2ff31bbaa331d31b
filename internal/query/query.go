// Package query defines the request and response types exchanged between the
// advisory facade, the native bridge, and the fallback generator.
//
// Requests are immutable once constructed; every call gets its own value.
// Responses are produced exactly once per completed request (streaming or not)
// and must not be mutated afterwards.
package query

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies what the payload of a Request contains.
type Kind int

// Request kinds supported by the advisory engine.
const (
	// KindToken asks for a Sharia ruling on a token ticker (payload: "BTC").
	KindToken Kind = iota

	// KindText asks a free-form Islamic finance question.
	KindText

	// KindContract asks for analysis of a smart-contract address.
	KindContract

	// KindAudio carries raw audio bytes to transcribe and then analyze.
	KindAudio

	// KindChatMessage is a conversational turn inside a session.
	KindChatMessage
)

// String returns the operation name used across the native boundary.
func (k Kind) String() string {
	switch k {
	case KindToken:
		return "analyze_token"
	case KindText:
		return "analyze_text"
	case KindContract:
		return "analyze_contract"
	case KindAudio:
		return "transcribe_and_analyze"
	case KindChatMessage:
		return "chat_message"
	default:
		return "unknown"
	}
}

// DefaultLanguage is used when a request does not specify one.
// Matches the original client's default audience.
const DefaultLanguage = "id"

// Request is a single advisory query.
type Request struct {
	ID             string
	Kind           Kind
	Payload        []byte // audio bytes for KindAudio, UTF-8 text otherwise
	UserID         string // optional
	ConversationID string // groups streaming turns; optional for single-shot calls
	Language       string
}

// Text returns the payload interpreted as text.
// Meaningless for KindAudio requests.
func (r Request) Text() string {
	return string(r.Payload)
}

// NewRequest creates an immutable request with a fresh ID.
// An empty language defaults to DefaultLanguage.
func NewRequest(kind Kind, payload []byte, language string) Request {
	if language == "" {
		language = DefaultLanguage
	}
	return Request{
		ID:       uuid.New().String(),
		Kind:     kind,
		Payload:  payload,
		Language: language,
	}
}

// NewTextRequest is a convenience constructor for text-carrying kinds.
func NewTextRequest(kind Kind, text, language string) Request {
	return NewRequest(kind, []byte(text), language)
}

// Response is the completed answer for one Request.
type Response struct {
	ID         string
	Text       string
	Confidence float64 // in [0, 1]
	Sources    []string
	FollowUps  []string
	CreatedAt  time.Time
	AnalysisID string // optional
}

// NewResponse builds a Response stamped with the current time.
func NewResponse(requestID, text string, confidence float64, sources, followUps []string) *Response {
	return &Response{
		ID:         requestID,
		Text:       text,
		Confidence: confidence,
		Sources:    sources,
		FollowUps:  followUps,
		CreatedAt:  time.Now(),
	}
}

// Chunk is one ordered fragment of a streamed answer.
// Sequence numbers start at 0 and increase by exactly one per chunk within a
// logical request; anything else is a protocol violation.
type Chunk struct {
	Sequence uint64
	Content  string
}
