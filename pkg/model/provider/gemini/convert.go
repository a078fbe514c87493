package gemini

import (
	"encoding/base64"
	"strings"

	"google.golang.org/genai"

	"github.com/docker/agentloop/pkg/chat"
)

// convertMessages maps the normalized history onto Gemini contents.
// Function responses are matched to their call by id; Gemini also needs the
// function name, which only the assistant message carries.
func convertMessages(messages []chat.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	names := make(map[string]string)

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case chat.MessageRoleSystem:
			continue

		case chat.MessageRoleUser:
			if txt := strings.TrimSpace(msg.Text()); txt != "" {
				contents = append(contents, genai.NewContentFromText(txt, genai.RoleUser))
			}

		case chat.MessageRoleAssistant:
			var parts []*genai.Part
			for _, b := range msg.Blocks {
				switch b.Type {
				case chat.BlockTypeThinking:
					part := &genai.Part{Text: b.Thinking, Thought: true}
					if sig, err := base64.StdEncoding.DecodeString(b.Signature); err == nil {
						part.ThoughtSignature = sig
					}
					parts = append(parts, part)
				case chat.BlockTypeText:
					if b.Text != "" {
						parts = append(parts, genai.NewPartFromText(b.Text))
					}
				case chat.BlockTypeToolUse:
					if b.ToolCall == nil {
						continue
					}
					names[b.ToolCall.ID] = b.ToolCall.Name
					part := genai.NewPartFromFunctionCall(b.ToolCall.Name, b.ToolCall.Arguments)
					part.FunctionCall.ID = b.ToolCall.ID
					parts = append(parts, part)
				}
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		case chat.MessageRoleTool:
			var parts []*genai.Part
			for _, r := range msg.ToolResults() {
				response := map[string]any{"output": r.Content}
				if r.IsError {
					response = map[string]any{"error": r.Content}
				}
				part := genai.NewPartFromFunctionResponse(names[r.ToolCallID], response)
				part.FunctionResponse.ID = r.ToolCallID
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		}
	}
	return contents
}

func systemInstruction(prompt string, messages []chat.Message) string {
	var parts []string
	if txt := strings.TrimSpace(prompt); txt != "" {
		parts = append(parts, txt)
	}
	for i := range messages {
		if messages[i].Role != chat.MessageRoleSystem {
			continue
		}
		if txt := strings.TrimSpace(messages[i].Text()); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n\n")
}
