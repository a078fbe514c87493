// Package sequencer enforces the ordering rules providers impose on
// conversation history: a tool-result message must directly follow the
// assistant message whose tool uses it answers.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/docker/agentloop/pkg/chat"
)

// UnresolvedToolUseError lists tool uses that never received a result.
type UnresolvedToolUseError struct {
	IDs []string
}

func (e *UnresolvedToolUseError) Error() string {
	return "unresolved tool use: " + strings.Join(e.IDs, ", ")
}

// OrphanToolResultError is a tool result that answers no open tool use.
type OrphanToolResultError struct {
	ToolCallID string
	Index      int
}

func (e *OrphanToolResultError) Error() string {
	return fmt.Sprintf("tool result %q at message %d has no matching tool use", e.ToolCallID, e.Index)
}

type Sequencer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{logger: logger}
}

// Normalize returns a copy of msgs ready to be sent: leading tool results
// are dropped and every tool-result message is moved right after the tool
// use message it answers.
func (s *Sequencer) Normalize(msgs []chat.Message) []chat.Message {
	start := 0
	for start < len(msgs) && msgs[start].Kind() == chat.KindToolResult {
		start++
	}
	if start > 0 {
		s.logger.Warn("Dropping leading tool result messages", "count", start)
	}

	out := slices.Clone(msgs[start:])
	for i := range out {
		if out[i].Kind() != chat.KindAssistantToolUse {
			continue
		}

		ids := map[string]bool{}
		for _, call := range out[i].ToolCalls() {
			ids[call.ID] = true
		}

		for j := i + 1; j < len(out); j++ {
			if out[j].Kind() != chat.KindToolResult || !out[j].References(ids) {
				continue
			}
			if j != i+1 {
				s.logger.Debug("Moving tool result next to its tool use", "from", j, "to", i+1, "message_id", out[j].ID)
				moved := out[j]
				copy(out[i+2:j+1], out[i+1:j])
				out[i+1] = moved
			}
			break
		}
	}
	return out
}

// Check walks msgs once and reports orphaned results and tool uses that
// never got a result.
func (s *Sequencer) Check(msgs []chat.Message) error {
	var (
		open   []string
		errs   []error
		isOpen = map[string]bool{}
	)

	for i := range msgs {
		for _, call := range msgs[i].ToolCalls() {
			if !isOpen[call.ID] {
				isOpen[call.ID] = true
				open = append(open, call.ID)
			}
		}
		for _, res := range msgs[i].ToolResults() {
			if !isOpen[res.ToolCallID] {
				errs = append(errs, &OrphanToolResultError{ToolCallID: res.ToolCallID, Index: i})
				continue
			}
			delete(isOpen, res.ToolCallID)
		}
	}

	var unresolved []string
	for _, id := range open {
		if isOpen[id] {
			unresolved = append(unresolved, id)
		}
	}
	if len(unresolved) > 0 {
		errs = append(errs, &UnresolvedToolUseError{IDs: unresolved})
	}
	return errors.Join(errs...)
}

// Validate logs sequencing problems in msgs and returns it unchanged.
func (s *Sequencer) Validate(ctx context.Context, msgs []chat.Message) []chat.Message {
	if err := s.Check(msgs); err != nil {
		s.logger.ErrorContext(ctx, "Conversation history is not well sequenced", "messages", len(msgs), "error", err)
	}
	return msgs
}
