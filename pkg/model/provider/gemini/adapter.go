package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"iter"

	"google.golang.org/genai"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/model/provider/base"
	"github.com/docker/agentloop/pkg/stream"
)

// Gemini responses carry whole parts rather than indexed blocks. Text and
// thoughts stream into fixed blocks; every function call gets a fresh block
// that is opened and closed within a single chunk.
const (
	textIndex      = 0
	thinkingIndex  = 1
	firstToolIndex = 2
)

type result struct {
	resp *genai.GenerateContentResponse
	err  error
}

type streamAdapter struct {
	ctx        context.Context
	results    <-chan result
	blocks     *base.Blocks
	model      string
	toolIndex  int
	started    bool
	stopped    bool
	signed     bool
	stopReason string
	usage      *chat.Usage
}

// newStreamAdapter drains seq on its own goroutine so that Close can cancel
// a pending iteration from any goroutine.
func newStreamAdapter(ctx context.Context, cancel context.CancelFunc, seq iter.Seq2[*genai.GenerateContentResponse, error], model string) *base.Stream {
	results := make(chan result)
	go func() {
		defer close(results)
		for resp, err := range seq {
			select {
			case results <- result{resp: resp, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	a := &streamAdapter{
		ctx:       ctx,
		results:   results,
		blocks:    base.NewBlocks(),
		model:     model,
		toolIndex: firstToolIndex,
	}
	return base.NewStream(a.next, func() error {
		cancel()
		return nil
	})
}

func (a *streamAdapter) next() ([]stream.RawEvent, error) {
	r, ok := <-a.results
	if !ok {
		if err := a.ctx.Err(); err != nil {
			return nil, err
		}
		return a.finish()
	}
	if r.err != nil {
		return nil, r.err
	}
	return a.decode(r.resp), nil
}

func (a *streamAdapter) finish() ([]stream.RawEvent, error) {
	if !a.started || a.stopped {
		return nil, io.EOF
	}
	a.stopped = true

	events := a.blocks.StopAll()
	if a.stopReason != "" || a.usage != nil {
		events = append(events, stream.MessageDelta{StopReason: a.stopReason, Usage: a.usage})
	}
	return append(events, stream.MessageStop{}), nil
}

func (a *streamAdapter) decode(resp *genai.GenerateContentResponse) []stream.RawEvent {
	if resp == nil {
		return nil
	}

	var events []stream.RawEvent
	if !a.started {
		a.started = true
		model := resp.ModelVersion
		if model == "" {
			model = a.model
		}
		events = append(events, stream.MessageStart{ID: resp.ResponseID, Model: model})
	}

	// Usage metadata is cumulative; keep the latest.
	if u := resp.UsageMetadata; u != nil {
		a.usage = &chat.Usage{
			InputTokens:       int64(u.PromptTokenCount),
			OutputTokens:      int64(u.CandidatesTokenCount) + int64(u.ThoughtsTokenCount),
			CachedInputTokens: int64(u.CachedContentTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		return events
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason != "" {
		a.stopReason = string(candidate.FinishReason)
	}
	if candidate.Content == nil {
		return events
	}

	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		events = append(events, a.decodePart(part)...)
	}
	return events
}

func (a *streamAdapter) decodePart(part *genai.Part) []stream.RawEvent {
	var events []stream.RawEvent

	switch {
	case part.FunctionCall != nil:
		events = append(events, a.functionCall(part.FunctionCall)...)
	case part.Thought && part.Text != "":
		events = append(events, a.blocks.Ensure(thinkingIndex, stream.BlockThinking)...)
		events = append(events, stream.BlockDelta{Index: thinkingIndex, Kind: stream.DeltaThinking, Text: part.Text})
	case part.Text != "":
		events = append(events, a.blocks.Ensure(textIndex, stream.BlockText)...)
		events = append(events, stream.BlockDelta{Index: textIndex, Kind: stream.DeltaText, Text: part.Text})
	}

	// Signatures may ride on any part and must be replayed with the thought.
	if len(part.ThoughtSignature) > 0 && !a.signed {
		a.signed = true
		events = append(events, a.blocks.Ensure(thinkingIndex, stream.BlockThinking)...)
		events = append(events, stream.BlockDelta{
			Index: thinkingIndex,
			Kind:  stream.DeltaSignature,
			Text:  base64.StdEncoding.EncodeToString(part.ThoughtSignature),
		})
	}
	return events
}

func (a *streamAdapter) functionCall(call *genai.FunctionCall) []stream.RawEvent {
	index := a.toolIndex
	a.toolIndex++

	events := []stream.RawEvent{a.blocks.Start(stream.BlockStart{
		Index:    index,
		Kind:     stream.BlockToolUse,
		ToolID:   call.ID,
		ToolName: call.Name,
	})}
	if len(call.Args) > 0 {
		if args, err := json.Marshal(call.Args); err == nil {
			events = append(events, stream.BlockDelta{Index: index, Kind: stream.DeltaJSON, Text: string(args)})
		}
	}
	return append(events, a.blocks.Stop(index)...)
}
