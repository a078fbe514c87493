package stream

import (
	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/tools"
)

// Event is a high level notification produced while a response streams.
type Event interface {
	isEvent()
	GetMessageID() string
}

// MessageContext attributes an event to the assistant message being streamed.
type MessageContext struct {
	MessageID string `json:"message_id,omitempty"`
}

func (m MessageContext) GetMessageID() string { return m.MessageID }

type StreamTaskStartedEvent struct {
	Type string `json:"type"`
	MessageContext
}

func StreamTaskStarted(messageID string) Event {
	return &StreamTaskStartedEvent{
		Type:           "stream_task_started",
		MessageContext: MessageContext{MessageID: messageID},
	}
}

func (e *StreamTaskStartedEvent) isEvent() {}

type TextEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	MessageContext
}

func Text(messageID, delta string) Event {
	return &TextEvent{
		Type:           "text",
		Delta:          delta,
		MessageContext: MessageContext{MessageID: messageID},
	}
}

func (e *TextEvent) isEvent() {}

type ThinkingEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	MessageContext
}

func Thinking(messageID, delta string) Event {
	return &ThinkingEvent{
		Type:           "thinking",
		Delta:          delta,
		MessageContext: MessageContext{MessageID: messageID},
	}
}

func (e *ThinkingEvent) isEvent() {}

type ThinkingSignatureEvent struct {
	Type   string `json:"type"`
	Signed bool   `json:"signed"`
	MessageContext
}

func ThinkingSignature(messageID string, signed bool) Event {
	return &ThinkingSignatureEvent{
		Type:           "thinking_signature",
		Signed:         signed,
		MessageContext: MessageContext{MessageID: messageID},
	}
}

func (e *ThinkingSignatureEvent) isEvent() {}

// ToolCallEvent carries every tool use finalized so far for the message.
type ToolCallEvent struct {
	Type      string           `json:"type"`
	ToolCalls []tools.ToolCall `json:"tool_calls"`
	MessageContext
}

func ToolCall(messageID string, calls []tools.ToolCall) Event {
	return &ToolCallEvent{
		Type:           "tool_call",
		ToolCalls:      calls,
		MessageContext: MessageContext{MessageID: messageID},
	}
}

func (e *ToolCallEvent) isEvent() {}

type ToolResultEvent struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
	MessageContext
}

func ToolResult(messageID string, msg chat.Message) Event {
	return &ToolResultEvent{
		Type:           "tool_result",
		Message:        msg,
		MessageContext: MessageContext{MessageID: messageID},
	}
}

func (e *ToolResultEvent) isEvent() {}

type UsageEvent struct {
	Type  string     `json:"type"`
	Usage chat.Usage `json:"usage"`
	MessageContext
}

func Usage(messageID string, usage chat.Usage) Event {
	return &UsageEvent{
		Type:           "usage",
		Usage:          usage,
		MessageContext: MessageContext{MessageID: messageID},
	}
}

func (e *UsageEvent) isEvent() {}

type StreamTaskCompletedEvent struct {
	Type string `json:"type"`
	MessageContext
}

func StreamTaskCompleted(messageID string) Event {
	return &StreamTaskCompletedEvent{
		Type:           "stream_task_completed",
		MessageContext: MessageContext{MessageID: messageID},
	}
}

func (e *StreamTaskCompletedEvent) isEvent() {}

type MaxTurnsReachedEvent struct {
	Type     string `json:"type"`
	MaxTurns int    `json:"max_turns"`
	MessageContext
}

func MaxTurnsReached(maxTurns int) Event {
	return &MaxTurnsReachedEvent{
		Type:     "max_turns_reached",
		MaxTurns: maxTurns,
	}
}

func (e *MaxTurnsReachedEvent) isEvent() {}

// CompletedEvent is sent exactly once when an agent run ends normally.
type CompletedEvent struct {
	Type string `json:"type"`
	MessageContext
}

func Completed() Event {
	return &CompletedEvent{
		Type: "completed",
	}
}

func (e *CompletedEvent) isEvent() {}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	MessageContext
}

func Error(msg string) Event {
	return &ErrorEvent{
		Type:  "error",
		Error: msg,
	}
}

func (e *ErrorEvent) isEvent() {}
