package bedrock

import (
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/docker/agentloop/pkg/chat"
	"github.com/docker/agentloop/pkg/tools"
)

// convertMessages splits the history into Converse messages and system
// blocks. Tool results become a user message right after the assistant turn
// that requested them.
func convertMessages(systemPrompt string, messages []chat.Message) ([]types.Message, []types.SystemContentBlock) {
	var (
		converted []types.Message
		system    []types.SystemContentBlock
	)

	if txt := strings.TrimSpace(systemPrompt); txt != "" {
		system = append(system, &types.SystemContentBlockMemberText{Value: txt})
	}

	for i := range messages {
		msg := &messages[i]

		switch msg.Role {
		case chat.MessageRoleSystem:
			if txt := strings.TrimSpace(msg.Text()); txt != "" {
				system = append(system, &types.SystemContentBlockMemberText{Value: txt})
			}

		case chat.MessageRoleUser:
			if txt := strings.TrimSpace(msg.Text()); txt != "" {
				converted = append(converted, types.Message{
					Role:    types.ConversationRoleUser,
					Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: txt}},
				})
			}

		case chat.MessageRoleAssistant:
			if blocks := convertAssistantContent(msg); len(blocks) > 0 {
				converted = append(converted, types.Message{
					Role:    types.ConversationRoleAssistant,
					Content: blocks,
				})
			}

		case chat.MessageRoleTool:
			var blocks []types.ContentBlock
			for _, r := range msg.ToolResults() {
				result := types.ToolResultBlock{
					ToolUseId: aws.String(r.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: r.Content}},
				}
				if r.IsError {
					result.Status = types.ToolResultStatusError
				}
				blocks = append(blocks, &types.ContentBlockMemberToolResult{Value: result})
			}
			if len(blocks) > 0 {
				converted = append(converted, types.Message{
					Role:    types.ConversationRoleUser,
					Content: blocks,
				})
			}
		}
	}

	return converted, system
}

// convertAssistantContent replays signed reasoning first, then text, then
// tool uses.
func convertAssistantContent(msg *chat.Message) []types.ContentBlock {
	var thinking, text, toolUses []types.ContentBlock

	for _, b := range msg.Blocks {
		switch b.Type {
		case chat.BlockTypeThinking:
			if b.Signature == "" {
				continue
			}
			thinking = append(thinking, &types.ContentBlockMemberReasoningContent{
				Value: &types.ReasoningContentBlockMemberReasoningText{
					Value: types.ReasoningTextBlock{
						Text:      aws.String(b.Thinking),
						Signature: aws.String(b.Signature),
					},
				},
			})
		case chat.BlockTypeText:
			if strings.TrimSpace(b.Text) != "" {
				text = append(text, &types.ContentBlockMemberText{Value: b.Text})
			}
		case chat.BlockTypeToolUse:
			if b.ToolCall == nil {
				continue
			}
			toolUses = append(toolUses, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(b.ToolCall.ID),
					Name:      aws.String(b.ToolCall.Name),
					Input:     document.NewLazyDocument(toolInput(b.ToolCall)),
				},
			})
		}
	}

	return append(append(thinking, text...), toolUses...)
}

func toolInput(call *tools.ToolCall) map[string]any {
	if call.Arguments != nil {
		return call.Arguments
	}
	input := map[string]any{}
	if call.RawArguments != "" {
		_ = json.Unmarshal([]byte(call.RawArguments), &input)
	}
	return input
}

func convertToolConfig(requestTools []tools.Tool, choice string) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(requestTools))
	for _, tool := range requestTools {
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(tool.Schema()),
				},
			},
		})
	}

	return &types.ToolConfiguration{
		Tools:      specs,
		ToolChoice: convertToolChoice(choice),
	}
}

// convertToolChoice maps the request's tool choice. Converse has no "none";
// the tools stay declared so that earlier tool uses in the history remain
// valid, and the model decides.
func convertToolChoice(choice string) types.ToolChoice {
	switch choice {
	case "", "auto", "none":
		return &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
	case "any", "required":
		return &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
	default:
		return &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{Name: aws.String(choice)}}
	}
}
