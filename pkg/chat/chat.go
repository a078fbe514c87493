package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docker/agentloop/pkg/tools"
)

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

type BlockType string

const (
	BlockTypeText       BlockType = "text"
	BlockTypeThinking   BlockType = "thinking"
	BlockTypeToolUse    BlockType = "tool_use"
	BlockTypeToolResult BlockType = "tool_result"
)

// Kind is the conversational variant of a message.
type Kind int

const (
	KindUser Kind = iota
	KindSystem
	KindAssistantText
	KindAssistantToolUse
	KindToolResult
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindSystem:
		return "system"
	case KindAssistantText:
		return "assistant_text"
	case KindAssistantToolUse:
		return "assistant_tool_use"
	case KindToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

// Block is one content block of a message.
type Block struct {
	Type       BlockType             `json:"type"`
	Text       string                `json:"text,omitempty"`
	Thinking   string                `json:"thinking,omitempty"`
	Signature  string                `json:"signature,omitempty"`
	ToolCall   *tools.ToolCall       `json:"tool_call,omitempty"`
	ToolResult *tools.ToolCallResult `json:"tool_result,omitempty"`
}

func TextBlock(text string) Block {
	return Block{Type: BlockTypeText, Text: text}
}

func ThinkingBlock(thinking, signature string) Block {
	return Block{Type: BlockTypeThinking, Thinking: thinking, Signature: signature}
}

func ToolUseBlock(call tools.ToolCall) Block {
	return Block{Type: BlockTypeToolUse, ToolCall: &call}
}

func ToolResultBlock(result tools.ToolCallResult) Block {
	return Block{Type: BlockTypeToolResult, ToolResult: &result}
}

// Message is one turn of a conversation.
type Message struct {
	ID         string      `json:"id"`
	Role       MessageRole `json:"role"`
	Blocks     []Block     `json:"blocks"`
	CreatedAt  time.Time   `json:"created_at"`
	Model      string      `json:"model,omitempty"`
	StopReason string      `json:"stop_reason,omitempty"`
	Usage      *Usage      `json:"usage,omitempty"`
}

func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      MessageRoleUser,
		Blocks:    []Block{TextBlock(text)},
		CreatedAt: time.Now(),
	}
}

func NewSystemMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      MessageRoleSystem,
		Blocks:    []Block{TextBlock(text)},
		CreatedAt: time.Now(),
	}
}

// NewToolResultMessage aggregates the results of one assistant turn. It is
// stamped just after the assistant message so ordering by time keeps it
// adjacent.
func NewToolResultMessage(after Message, results []tools.ToolCallResult) Message {
	blocks := make([]Block, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, ToolResultBlock(r))
	}
	return Message{
		ID:        uuid.NewString(),
		Role:      MessageRoleTool,
		Blocks:    blocks,
		CreatedAt: after.CreatedAt.Add(time.Microsecond),
	}
}

func (m *Message) Kind() Kind {
	switch m.Role {
	case MessageRoleSystem:
		return KindSystem
	case MessageRoleTool:
		return KindToolResult
	case MessageRoleAssistant:
		if m.HasToolUse() {
			return KindAssistantToolUse
		}
		return KindAssistantText
	default:
		return KindUser
	}
}

// Text concatenates the text blocks.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func (m *Message) HasToolUse() bool {
	for _, b := range m.Blocks {
		if b.Type == BlockTypeToolUse {
			return true
		}
	}
	return false
}

func (m *Message) ToolCalls() []tools.ToolCall {
	var calls []tools.ToolCall
	for _, b := range m.Blocks {
		if b.Type == BlockTypeToolUse && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

func (m *Message) ToolResults() []tools.ToolCallResult {
	var results []tools.ToolCallResult
	for _, b := range m.Blocks {
		if b.Type == BlockTypeToolResult && b.ToolResult != nil {
			results = append(results, *b.ToolResult)
		}
	}
	return results
}

// References reports whether the message carries a result for any of ids.
func (m *Message) References(ids map[string]bool) bool {
	for _, r := range m.ToolResults() {
		if ids[r.ToolCallID] {
			return true
		}
	}
	return false
}

// Usage counts tokens for one provider call.
type Usage struct {
	InputTokens       int64 `json:"input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens,omitempty"`
	CacheWriteTokens  int64 `json:"cache_write_tokens,omitempty"`
}

func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}
