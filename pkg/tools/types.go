package tools

// ToolCall is a model-issued request to invoke a tool.
// Arguments is only meaningful once the provider finished streaming the call.
type ToolCall struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments"`
	RawArguments string         `json:"raw_arguments,omitempty"`
}

// ToolCallResult is the outcome of executing a ToolCall. It is never mutated
// after the executor returns it.
type ToolCallResult struct {
	ToolCallID string `json:"tool_call_id"`
	IsError    bool   `json:"is_error,omitempty"`
	Content    string `json:"content"`
}

// Tool describes a tool the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Annotations Annotations    `json:"annotations,omitzero"`
}

type Annotations struct {
	Title        string `json:"title,omitempty"`
	ReadOnlyHint bool   `json:"read_only_hint,omitempty"`
}

// Schema returns the tool parameters, defaulting to an empty object schema.
func (t Tool) Schema() map[string]any {
	if len(t.Parameters) == 0 {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return t.Parameters
}
