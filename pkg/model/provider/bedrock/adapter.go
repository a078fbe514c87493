package bedrock

import (
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/model/provider/base"
	"github.com/docker/agentloop/pkg/stream"
)

// eventReader is the part of the ConverseStream event stream the adapter
// reads from.
type eventReader interface {
	Events() <-chan types.ConverseStreamOutput
	Err() error
	Close() error
}

// streamAdapter maps Converse stream events onto raw events. Converse only
// announces tool use blocks, so text and reasoning blocks are opened on
// their first delta. The metadata event carrying usage arrives after the
// message stop event, so the message is stopped when the channel closes.
type streamAdapter struct {
	events  eventReader
	blocks  *base.Blocks
	model   string
	started bool
	stopped bool
}

func newStreamAdapter(events eventReader, model string) *base.Stream {
	a := &streamAdapter{
		events: events,
		blocks: base.NewBlocks(),
		model:  model,
	}
	return base.NewStream(a.next, events.Close)
}

func (a *streamAdapter) next() ([]stream.RawEvent, error) {
	event, ok := <-a.events.Events()
	if !ok {
		if err := a.events.Err(); err != nil {
			return nil, err
		}
		if !a.started || a.stopped {
			return nil, io.EOF
		}
		a.stopped = true
		return append(a.blocks.StopAll(), stream.MessageStop{}), nil
	}
	return a.decode(event), nil
}

func (a *streamAdapter) decode(event types.ConverseStreamOutput) []stream.RawEvent {
	var events []stream.RawEvent
	if !a.started {
		a.started = true
		events = append(events, stream.MessageStart{Model: a.model})
	}

	switch ev := event.(type) {
	case *types.ConverseStreamOutputMemberMessageStart:

	case *types.ConverseStreamOutputMemberContentBlockStart:
		index := int(aws.ToInt32(ev.Value.ContentBlockIndex))
		if start, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			events = append(events, a.blocks.Start(stream.BlockStart{
				Index:    index,
				Kind:     stream.BlockToolUse,
				ToolID:   aws.ToString(start.Value.ToolUseId),
				ToolName: aws.ToString(start.Value.Name),
			}))
		}

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		index := int(aws.ToInt32(ev.Value.ContentBlockIndex))
		events = append(events, a.delta(index, ev.Value.Delta)...)

	case *types.ConverseStreamOutputMemberContentBlockStop:
		events = append(events, a.blocks.Stop(int(aws.ToInt32(ev.Value.ContentBlockIndex)))...)

	case *types.ConverseStreamOutputMemberMessageStop:
		events = append(events, a.blocks.StopAll()...)
		events = append(events, stream.MessageDelta{StopReason: string(ev.Value.StopReason)})

	case *types.ConverseStreamOutputMemberMetadata:
		if u := ev.Value.Usage; u != nil {
			events = append(events, stream.MessageDelta{Usage: &chat.Usage{
				InputTokens:       int64(aws.ToInt32(u.InputTokens)),
				OutputTokens:      int64(aws.ToInt32(u.OutputTokens)),
				CachedInputTokens: int64(aws.ToInt32(u.CacheReadInputTokens)),
				CacheWriteTokens:  int64(aws.ToInt32(u.CacheWriteInputTokens)),
			}})
		}

	default:
		events = append(events, stream.Ping{})
	}

	return events
}

func (a *streamAdapter) delta(index int, delta types.ContentBlockDelta) []stream.RawEvent {
	var events []stream.RawEvent

	switch d := delta.(type) {
	case *types.ContentBlockDeltaMemberText:
		events = append(events, a.blocks.Ensure(index, stream.BlockText)...)
		events = append(events, stream.BlockDelta{Index: index, Kind: stream.DeltaText, Text: d.Value})

	case *types.ContentBlockDeltaMemberToolUse:
		events = append(events, stream.BlockDelta{Index: index, Kind: stream.DeltaJSON, Text: aws.ToString(d.Value.Input)})

	case *types.ContentBlockDeltaMemberReasoningContent:
		switch r := d.Value.(type) {
		case *types.ReasoningContentBlockDeltaMemberText:
			events = append(events, a.blocks.Ensure(index, stream.BlockThinking)...)
			events = append(events, stream.BlockDelta{Index: index, Kind: stream.DeltaThinking, Text: r.Value})
		case *types.ReasoningContentBlockDeltaMemberSignature:
			events = append(events, a.blocks.Ensure(index, stream.BlockThinking)...)
			events = append(events, stream.BlockDelta{Index: index, Kind: stream.DeltaSignature, Text: r.Value})
		}
	}

	return events
}
