package tui

import (
	"context"
	"fmt"

	tea "charm.land/bubbletea/v2"

	"github.com/amanahlabs/fiqhbridge/internal/advisor"
	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// streamBufferSize absorbs chunk bursts during UI render delays. Chunk events
// carry the cumulative text, so a dropped event is subsumed by the next one.
const streamBufferSize = 100

// streamEvent is a discriminated union for all stream events.
// Exactly one of the fields is set per event.
type streamEvent struct {
	text string          // cumulative text so far (when non-empty)
	resp *query.Response // final response (when done is true)
	err  error           // error (when non-nil)
	done bool            // true when the stream completed
}

// Stream message types for Bubble Tea.
type streamStartedMsg struct {
	eventCh <-chan streamEvent
	cancel  context.CancelFunc
}

type streamTextMsg struct {
	text string
}

type streamDoneMsg struct {
	resp *query.Response
}

type streamErrorMsg struct {
	err error
}

// startStream creates a command that initiates a streamed answer.
//
// The advisor invokes the callbacks from its own goroutines and guarantees
// chunks followed by exactly one terminal event; the callbacks forward into a
// single union channel for the Bubble Tea loop. Chunk events are sent
// best-effort because each one carries the full cumulative text; terminal
// events block until delivered or the stream context ends.
func (m *Model) startStream(text string) tea.Cmd {
	req := query.NewTextRequest(query.KindChatMessage, text, m.language)
	req.ConversationID = m.conversationID

	return func() tea.Msg {
		eventCh := make(chan streamEvent, streamBufferSize)
		ctx, cancel := context.WithTimeout(m.ctx, streamTimeout)

		send := func(ev streamEvent) {
			select {
			case eventCh <- ev:
			case <-ctx.Done():
			}
		}

		err := m.adv.AnalyzeStream(ctx, req, advisor.Callbacks{
			OnChunk: func(cumulative string) {
				select {
				case eventCh <- streamEvent{text: cumulative}:
				default: // superseded by the next cumulative chunk
				}
			},
			OnComplete: func(resp *query.Response) {
				send(streamEvent{done: true, resp: resp})
			},
			OnError: func(err error) {
				send(streamEvent{err: err})
			},
		})
		if err != nil {
			cancel()
			return streamErrorMsg{err: fmt.Errorf("starting stream: %w", err)}
		}

		return streamStartedMsg{
			eventCh: eventCh,
			cancel:  cancel,
		}
	}
}

// listenForStream creates a command that waits for the next stream event.
// Empty events are skipped via loop instead of recursion.
func (m *Model) listenForStream(eventCh <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}

		for {
			select {
			case event, ok := <-eventCh:
				if !ok {
					return streamErrorMsg{err: fmt.Errorf("stream ended without completion signal")}
				}
				switch {
				case event.err != nil:
					return streamErrorMsg{err: event.err}
				case event.done:
					return streamDoneMsg{resp: event.resp}
				case event.text != "":
					return streamTextMsg{text: event.text}
				default:
					continue
				}
			case <-m.ctx.Done():
				return streamErrorMsg{err: m.ctx.Err()}
			}
		}
	}
}
