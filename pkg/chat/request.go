package chat

import "github.com/docker/agentloop/pkg/tools"

const DefaultMaxTurns = 20

// CompletionRequest describes one agent run against a provider.
type CompletionRequest struct {
	Model        string       `json:"model"`
	MaxTokens    *int64       `json:"max_tokens,omitempty"`
	Tools        []tools.Tool `json:"tools,omitempty"`
	ToolChoice   string       `json:"tool_choice,omitempty"`
	MaxTurns     int          `json:"max_turns,omitempty"`
	Stream       bool         `json:"stream"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
}

// Turns returns the turn cap, applying the default when unset.
func (r *CompletionRequest) Turns() int {
	if r.MaxTurns <= 0 {
		return DefaultMaxTurns
	}
	return r.MaxTurns
}

// MaxTokensOr returns MaxTokens or def when unset.
func (r *CompletionRequest) MaxTokensOr(def int64) int64 {
	if r.MaxTokens == nil || *r.MaxTokens <= 0 {
		return def
	}
	return *r.MaxTokens
}
