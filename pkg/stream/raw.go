package stream

import "github.com/docker/agentloop/pkg/chat"

// RawEvent is the provider independent wire event every adapter produces.
type RawEvent interface {
	isRawEvent()
}

type BlockKind int

const (
	BlockText BlockKind = iota
	BlockThinking
	BlockToolUse
)

func (k BlockKind) String() string {
	switch k {
	case BlockText:
		return "text"
	case BlockThinking:
		return "thinking"
	case BlockToolUse:
		return "tool_use"
	default:
		return "unknown"
	}
}

type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaJSON
	DeltaThinking
	DeltaSignature
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaText:
		return "text"
	case DeltaJSON:
		return "input_json"
	case DeltaThinking:
		return "thinking"
	case DeltaSignature:
		return "signature"
	default:
		return "unknown"
	}
}

type MessageStart struct {
	ID    string
	Model string
}

// BlockStart opens the content block at Index. Text, Thinking and Signature
// seed the block when the provider sends initial content with the start.
type BlockStart struct {
	Index     int
	Kind      BlockKind
	Text      string
	Thinking  string
	Signature string
	ToolID    string
	ToolName  string
}

type BlockDelta struct {
	Index int
	Kind  DeltaKind
	Text  string
}

type BlockStop struct {
	Index int
}

type MessageDelta struct {
	StopReason string
	Usage      *chat.Usage
}

type MessageStop struct{}

type StreamError struct {
	Err error
}

type Ping struct{}

func (MessageStart) isRawEvent() {}
func (BlockStart) isRawEvent()   {}
func (BlockDelta) isRawEvent()   {}
func (BlockStop) isRawEvent()    {}
func (MessageDelta) isRawEvent() {}
func (MessageStop) isRawEvent()  {}
func (StreamError) isRawEvent()  {}
func (Ping) isRawEvent()         {}
