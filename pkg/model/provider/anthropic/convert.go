package anthropic

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/tools"
)

// convertMessages maps the normalized history onto Anthropic messages.
// System messages go to the top-level system field instead. Tool result
// messages become user messages, as the API requires.
func convertMessages(messages []chat.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case chat.MessageRoleSystem:
			continue

		case chat.MessageRoleUser:
			if txt := strings.TrimSpace(msg.Text()); txt != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
			}

		case chat.MessageRoleAssistant:
			if blocks := assistantBlocks(msg); len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}

		case chat.MessageRoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, r := range msg.ToolResults() {
				blocks = append(blocks, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	applyMessageCacheControl(out)
	return out
}

// assistantBlocks orders thinking first, then text, then tool uses.
func assistantBlocks(msg *chat.Message) []anthropic.ContentBlockParamUnion {
	var thinking, text, toolUses []anthropic.ContentBlockParamUnion

	for _, b := range msg.Blocks {
		switch b.Type {
		case chat.BlockTypeThinking:
			if b.Signature != "" {
				thinking = append(thinking, anthropic.NewThinkingBlock(b.Signature, b.Thinking))
			}
		case chat.BlockTypeText:
			if txt := strings.TrimSpace(b.Text); txt != "" {
				text = append(text, anthropic.NewTextBlock(txt))
			}
		case chat.BlockTypeToolUse:
			if b.ToolCall == nil {
				continue
			}
			input := b.ToolCall.Arguments
			if input == nil {
				input = map[string]any{}
			}
			toolUses = append(toolUses, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    b.ToolCall.ID,
					Name:  b.ToolCall.Name,
					Input: input,
				},
			})
		}
	}

	blocks := append(thinking, text...)
	return append(blocks, toolUses...)
}

// applyMessageCacheControl adds ephemeral cache control to the last content
// block of the last 2 messages for prompt caching.
func applyMessageCacheControl(messages []anthropic.MessageParam) {
	for i := len(messages) - 1; i >= 0 && i >= len(messages)-2; i-- {
		msg := &messages[i]
		if len(msg.Content) == 0 {
			continue
		}
		block := &msg.Content[len(msg.Content)-1]
		cacheCtrl := anthropic.NewCacheControlEphemeralParam()
		switch {
		case block.OfText != nil:
			block.OfText.CacheControl = cacheCtrl
		case block.OfToolUse != nil:
			block.OfToolUse.CacheControl = cacheCtrl
		case block.OfToolResult != nil:
			block.OfToolResult.CacheControl = cacheCtrl
		}
	}
}

func systemBlocks(prompt string, messages []chat.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	if txt := strings.TrimSpace(prompt); txt != "" {
		blocks = append(blocks, anthropic.TextBlockParam{Text: txt})
	}
	for i := range messages {
		if messages[i].Role != chat.MessageRoleSystem {
			continue
		}
		if txt := strings.TrimSpace(messages[i].Text()); txt != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: txt})
		}
	}
	return blocks
}

func convertTools(requestTools []tools.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(requestTools))
	for i, tool := range requestTools {
		toolParam := &anthropic.ToolParam{
			Name:        tool.Name,
			InputSchema: convertSchema(tool.Schema()),
		}
		if tool.Description != "" {
			toolParam.Description = anthropic.String(tool.Description)
		}
		out[i] = anthropic.ToolUnionParam{OfTool: toolParam}
	}
	return out
}

func convertSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	param := anthropic.ToolInputSchemaParam{
		Properties: schema["properties"],
	}
	switch required := schema["required"].(type) {
	case []string:
		param.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				param.Required = append(param.Required, s)
			}
		}
	}
	return param
}

func convertToolChoice(choice string) anthropic.ToolChoiceUnionParam {
	switch choice {
	case "", "auto":
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	case "any", "required":
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case "none":
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: choice}}
	}
}
