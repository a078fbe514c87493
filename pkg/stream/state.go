package stream

import (
	"time"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/concurrent"
	"github.com/docker/agentloop/pkg/tools"
)

// StreamingState mirrors an in-progress assistant message for display.
// It is not authoritative: the agent loop builds history from the
// processor's final message.
type StreamingState struct {
	MessageID      string                 `json:"message_id"`
	Text           string                 `json:"text"`
	Thinking       string                 `json:"thinking,omitempty"`
	ThinkingSigned bool                   `json:"thinking_signed,omitempty"`
	ToolCalls      []tools.ToolCall       `json:"tool_calls,omitempty"`
	ToolResults    []tools.ToolCallResult `json:"tool_results,omitempty"`
	Usage          chat.Usage             `json:"usage"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        time.Time              `json:"ended_at,omitzero"`
	Complete       bool                   `json:"complete"`
}

// StateStore keeps one StreamingState per message id. Completed states are
// frozen. Safe for concurrent use.
type StateStore struct {
	states *concurrent.Map[string, StreamingState]
	now    func() time.Time
}

func NewStateStore() *StateStore {
	return &StateStore{
		states: concurrent.NewMap[string, StreamingState](),
		now:    time.Now,
	}
}

// Apply folds ev into the state of its message.
func (s *StateStore) Apply(ev Event) {
	id := ev.GetMessageID()
	if id == "" {
		return
	}

	if _, ok := ev.(*StreamTaskStartedEvent); ok {
		s.states.Store(id, StreamingState{MessageID: id, StartedAt: s.now()})
		return
	}

	if _, ok := s.states.Load(id); !ok {
		return
	}

	s.states.Update(id, func(st StreamingState, _ bool) StreamingState {
		if st.Complete {
			return st
		}
		switch e := ev.(type) {
		case *TextEvent:
			st.Text += e.Delta
		case *ThinkingEvent:
			st.Thinking += e.Delta
		case *ThinkingSignatureEvent:
			st.ThinkingSigned = st.ThinkingSigned || e.Signed
		case *ToolCallEvent:
			st.ToolCalls = append([]tools.ToolCall(nil), e.ToolCalls...)
		case *ToolResultEvent:
			st.ToolResults = appendResults(st.ToolResults, e.Message.ToolResults())
		case *UsageEvent:
			st.Usage = e.Usage
		case *StreamTaskCompletedEvent:
			st.Complete = true
			st.EndedAt = s.now()
		}
		return st
	})
}

func (s *StateStore) Get(messageID string) (StreamingState, bool) {
	return s.states.Load(messageID)
}

func (s *StateStore) Delete(messageID string) {
	s.states.Delete(messageID)
}

func appendResults(existing, incoming []tools.ToolCallResult) []tools.ToolCallResult {
	out := append([]tools.ToolCallResult(nil), existing...)
	for _, r := range incoming {
		seen := false
		for _, e := range out {
			if e.ToolCallID == r.ToolCallID {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, r)
		}
	}
	return out
}
