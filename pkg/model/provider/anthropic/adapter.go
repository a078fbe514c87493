package anthropic

import (
	"io"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/model/provider/base"
	"github.com/docker/agentloop/pkg/stream"
)

// streamAdapter maps Anthropic SSE events one to one onto raw events.
type streamAdapter struct {
	sse    *ssestream.Stream[anthropic.MessageStreamEventUnion]
	logger *slog.Logger
	// Blocks of a kind we do not model (redacted thinking, server tools).
	ignored map[int]bool
}

func newStreamAdapter(sse *ssestream.Stream[anthropic.MessageStreamEventUnion], logger *slog.Logger) *base.Stream {
	a := &streamAdapter{
		sse:     sse,
		logger:  logger,
		ignored: make(map[int]bool),
	}
	return base.NewStream(a.next, sse.Close)
}

func (a *streamAdapter) next() ([]stream.RawEvent, error) {
	if !a.sse.Next() {
		if err := a.sse.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return a.decode(a.sse.Current()), nil
}

func (a *streamAdapter) decode(event anthropic.MessageStreamEventUnion) []stream.RawEvent {
	switch ev := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		events := []stream.RawEvent{stream.MessageStart{
			ID:    ev.Message.ID,
			Model: string(ev.Message.Model),
		}}
		// Output tokens are reported cumulatively by the message delta.
		if u := ev.Message.Usage; u.InputTokens > 0 || u.CacheReadInputTokens > 0 || u.CacheCreationInputTokens > 0 {
			events = append(events, stream.MessageDelta{Usage: &chat.Usage{
				InputTokens:       u.InputTokens,
				CachedInputTokens: u.CacheReadInputTokens,
				CacheWriteTokens:  u.CacheCreationInputTokens,
			}})
		}
		return events

	case anthropic.ContentBlockStartEvent:
		index := int(ev.Index)
		switch block := ev.ContentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			return one(stream.BlockStart{Index: index, Kind: stream.BlockText, Text: block.Text})
		case anthropic.ThinkingBlock:
			return one(stream.BlockStart{
				Index:     index,
				Kind:      stream.BlockThinking,
				Thinking:  block.Thinking,
				Signature: block.Signature,
			})
		case anthropic.ToolUseBlock:
			return one(stream.BlockStart{
				Index:    index,
				Kind:     stream.BlockToolUse,
				ToolID:   block.ID,
				ToolName: block.Name,
			})
		default:
			a.logger.Debug("Ignoring Anthropic content block", "index", index, "type", ev.ContentBlock.Type)
			a.ignored[index] = true
			return nil
		}

	case anthropic.ContentBlockDeltaEvent:
		index := int(ev.Index)
		if a.ignored[index] {
			return nil
		}
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return one(stream.BlockDelta{Index: index, Kind: stream.DeltaText, Text: delta.Text})
		case anthropic.ThinkingDelta:
			return one(stream.BlockDelta{Index: index, Kind: stream.DeltaThinking, Text: delta.Thinking})
		case anthropic.SignatureDelta:
			return one(stream.BlockDelta{Index: index, Kind: stream.DeltaSignature, Text: delta.Signature})
		case anthropic.InputJSONDelta:
			return one(stream.BlockDelta{Index: index, Kind: stream.DeltaJSON, Text: delta.PartialJSON})
		default:
			a.logger.Debug("Ignoring Anthropic delta", "index", index, "type", ev.Delta.Type)
			return nil
		}

	case anthropic.ContentBlockStopEvent:
		index := int(ev.Index)
		if a.ignored[index] {
			return nil
		}
		return one(stream.BlockStop{Index: index})

	case anthropic.MessageDeltaEvent:
		return one(stream.MessageDelta{
			StopReason: string(ev.Delta.StopReason),
			Usage:      &chat.Usage{OutputTokens: ev.Usage.OutputTokens},
		})

	case anthropic.MessageStopEvent:
		return one(stream.MessageStop{})

	default:
		return one(stream.Ping{})
	}
}

func one(ev stream.RawEvent) []stream.RawEvent {
	return []stream.RawEvent{ev}
}
