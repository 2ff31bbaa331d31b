// Package tui provides the Bubble Tea chat interface for fiqhbridge.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/google/uuid"

	"github.com/amanahlabs/fiqhbridge/internal/advisor"
	"github.com/amanahlabs/fiqhbridge/internal/lifecycle"
)

// State represents the TUI state machine.
type State int

// TUI state machine states.
const (
	StateInput     State = iota // Awaiting user input
	StateThinking               // Request sent, no chunk yet
	StateStreaming              // Chunks arriving
)

// Memory bounds to prevent unbounded growth.
const (
	maxMessages = 100 // Maximum messages stored
	maxHistory  = 100 // Maximum input history entries
)

// streamTimeout is the maximum time a single streamed answer may take.
const streamTimeout = 5 * time.Minute

// Message role constants for consistent display.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
	roleError     = "error"
)

// Layout constants for viewport height calculation.
const (
	separatorLines = 2 // Two separator lines (above and below input)
	helpLines      = 1 // Help bar height
	promptLines    = 1 // Prompt prefix line
	minViewport    = 3 // Minimum viewport height
)

// Message represents a conversation message for display.
type Message struct {
	Role string // "user", "assistant", "system", "error"
	Text string
}

// Model is the Bubble Tea model for the fiqhbridge terminal interface.
type Model struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	// State
	state     State
	lastCtrlC time.Time

	// Output
	spinner  spinner.Model
	output   strings.Builder // cumulative text of the in-flight stream
	viewBuf  strings.Builder // reusable buffer for View() to reduce allocations
	messages []Message

	// Scrollable message viewport
	viewport viewport.Model

	// Help bar for keyboard shortcuts
	help help.Model
	keys keyMap

	// Stream management. No WaitGroup: Bubble Tea's event loop provides the
	// synchronization, and the advisor drops callbacks once a stream is
	// superseded or cancelled.
	streamCancel  context.CancelFunc
	streamEventCh <-chan streamEvent

	// Dependencies
	adv            *advisor.Advisor
	lc             *lifecycle.Lifecycle
	conversationID string
	language       string
	ctx            context.Context
	ctxCancel      context.CancelFunc

	// Dimensions
	width  int
	height int

	// Styles
	styles Styles

	// Markdown rendering (nil = graceful degradation to plain text)
	markdown *markdownRenderer
}

// addMessage appends a message and enforces the maxMessages bound.
func (m *Model) addMessage(msg Message) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
}

// New creates a Model bound to one conversation.
//
// IMPORTANT: ctx MUST be the same context passed to tea.WithContext()
// to ensure consistent cancellation behavior.
func New(ctx context.Context, adv *advisor.Advisor, lc *lifecycle.Lifecycle, language string) (*Model, error) {
	if adv == nil {
		return nil, errors.New("tui.New: advisor is required")
	}
	if lc == nil {
		return nil, errors.New("tui.New: lifecycle is required")
	}
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}

	ctx, cancel := context.WithCancel(ctx)

	// Enter submits, Shift+Enter adds newline (default behavior)
	ta := textarea.New()
	ta.Placeholder = "Ask about a token, contract, or ruling..."
	ta.SetHeight(1)
	ta.SetWidth(120)
	ta.MaxWidth = 0
	ta.ShowLineNumbers = false

	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{
		Focused: cleanStyle,
		Blurred: cleanStyle,
	})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Disable built-in keyboard handling; keys are routed explicitly in
	// handleKey to avoid conflicts with textarea/history navigation.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{}

	h := help.New()

	return &Model{
		adv:            adv,
		lc:             lc,
		conversationID: uuid.New().String(),
		language:       language,
		ctx:            ctx,
		ctxCancel:      cancel,
		input:          ta,
		spinner:        sp,
		viewport:       vp,
		help:           h,
		keys:           newKeyMap(),
		styles:         DefaultStyles(),
		history:        make([]string, 0, maxHistory),
		markdown:       newMarkdownRenderer(80),
		width:          80,
	}, nil
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.input.Focus(),
	)
}
