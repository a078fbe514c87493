package openai

import (
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/model/provider/base"
	"github.com/docker/agentloop/pkg/stream"
)

// textIndex is the block index text deltas are streamed into. Tool call
// number n streams into block n+1.
const textIndex = 0

// streamAdapter turns chat completion chunks, which carry no block
// boundaries, into the block-structured raw events. Blocks are closed when
// the choice finishes and the message stops once the trailing usage chunk
// has been read.
type streamAdapter struct {
	sse      *ssestream.Stream[openai.ChatCompletionChunk]
	blocks   *base.Blocks
	started  bool
	finished bool
	stopped  bool
}

func newStreamAdapter(sse *ssestream.Stream[openai.ChatCompletionChunk]) *base.Stream {
	a := &streamAdapter{
		sse:    sse,
		blocks: base.NewBlocks(),
	}
	return base.NewStream(a.next, sse.Close)
}

func (a *streamAdapter) next() ([]stream.RawEvent, error) {
	if a.sse.Next() {
		return a.decode(a.sse.Current()), nil
	}
	if err := a.sse.Err(); err != nil {
		return nil, err
	}
	if !a.started || a.stopped {
		return nil, io.EOF
	}

	a.stopped = true
	events := a.finish("")
	return append(events, stream.MessageStop{}), nil
}

func (a *streamAdapter) decode(chunk openai.ChatCompletionChunk) []stream.RawEvent {
	var events []stream.RawEvent
	if !a.started {
		a.started = true
		events = append(events, stream.MessageStart{ID: chunk.ID, Model: chunk.Model})
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}

		if content := choice.Delta.Content; content != "" {
			events = append(events, a.blocks.Ensure(textIndex, stream.BlockText)...)
			events = append(events, stream.BlockDelta{Index: textIndex, Kind: stream.DeltaText, Text: content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := int(tc.Index) + 1
			if !a.blocks.IsOpen(index) {
				events = append(events, a.blocks.Start(stream.BlockStart{
					Index:    index,
					Kind:     stream.BlockToolUse,
					ToolID:   tc.ID,
					ToolName: tc.Function.Name,
				}))
			}
			if tc.Function.Arguments != "" {
				events = append(events, stream.BlockDelta{Index: index, Kind: stream.DeltaJSON, Text: tc.Function.Arguments})
			}
		}

		if choice.FinishReason != "" {
			events = append(events, a.finish(choice.FinishReason)...)
		}
	}

	if u := chunk.Usage; u.PromptTokens > 0 || u.CompletionTokens > 0 {
		events = append(events, stream.MessageDelta{Usage: &chat.Usage{
			InputTokens:       u.PromptTokens,
			OutputTokens:      u.CompletionTokens,
			CachedInputTokens: u.PromptTokensDetails.CachedTokens,
		}})
	}

	return events
}

// finish closes the open blocks once and records the stop reason.
func (a *streamAdapter) finish(reason string) []stream.RawEvent {
	if a.finished {
		return nil
	}
	a.finished = true

	events := a.blocks.StopAll()
	if reason != "" {
		events = append(events, stream.MessageDelta{StopReason: reason})
	}
	return events
}
