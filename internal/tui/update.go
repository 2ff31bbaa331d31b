package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"

	"github.com/amanahlabs/fiqhbridge/internal/native"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// Update implements tea.Model.
//
//nolint:gocognit,gocyclo // Bubble Tea Update requires type switch on all message types
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Viewport height: total - input - separators - help
		inputHeight := m.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		m.viewport.SetWidth(msg.Width)
		m.viewport.SetHeight(vpHeight)
		m.input.SetWidth(msg.Width - 4) // Room for "> " prompt
		m.help.SetWidth(msg.Width)
		m.markdown.UpdateWidth(msg.Width)

		m.rebuildViewportContent()
		return m, nil

	case tea.MouseWheelMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.state == StateThinking {
			m.rebuildViewportContent()
		}
		return m, cmd

	case streamStartedMsg:
		m.streamCancel = msg.cancel
		m.streamEventCh = msg.eventCh
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		return m, m.listenForStream(msg.eventCh)

	case streamTextMsg:
		m.state = StateStreaming
		// Chunks carry the cumulative text, so replace rather than append.
		m.output.Reset()
		m.output.WriteString(msg.text)
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		return m, m.listenForStream(m.streamEventCh)

	case streamDoneMsg:
		m.state = StateInput
		m.releaseStream()

		// The completion payload is authoritative over accumulated chunks.
		finalText := ""
		if msg.resp != nil {
			finalText = msg.resp.Text
		}
		if finalText == "" {
			finalText = m.output.String()
		}

		m.addMessage(Message{Role: roleAssistant, Text: finalText})
		if note := responseNote(msg.resp); note != "" {
			m.addMessage(Message{Role: roleSystem, Text: note})
		}
		m.output.Reset()
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		return m, m.input.Focus()

	case streamErrorMsg:
		m.state = StateInput
		m.releaseStream()

		switch {
		case errors.Is(msg.err, context.Canceled), errors.Is(msg.err, native.ErrCallCancelled):
			m.addMessage(Message{Role: roleSystem, Text: "(Canceled)"})
		case errors.Is(msg.err, context.DeadlineExceeded), errors.Is(msg.err, native.ErrCallTimeout):
			m.addMessage(Message{Role: roleError, Text: "Answer timed out (>5 min). Try a shorter question."})
		default:
			m.addMessage(Message{Role: roleError, Text: msg.err.Error()})
		}
		m.output.Reset()
		m.rebuildViewportContent()
		m.viewport.GotoBottom()
		return m, m.input.Focus()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// releaseStream cancels the in-flight stream context and detaches the event
// channel.
func (m *Model) releaseStream() {
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
	m.streamEventCh = nil
}

// responseNote summarizes answer provenance for display under the message.
func responseNote(resp *query.Response) string {
	if resp == nil {
		return ""
	}
	var parts []string
	if len(resp.Sources) > 0 {
		parts = append(parts, "sources: "+strings.Join(resp.Sources, ", "))
	}
	if resp.Confidence > 0 {
		parts = append(parts, fmt.Sprintf("confidence %.0f%%", resp.Confidence*100))
	}
	if len(resp.FollowUps) > 0 {
		parts = append(parts, "follow-ups:\n  • "+strings.Join(resp.FollowUps, "\n  • "))
	}
	return strings.Join(parts, " · ")
}
