package openai

import (
	"encoding/json"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/docker/agentloop/pkg/chat"
)

// convertMessages maps the normalized history onto chat completion
// messages. Each tool result becomes its own tool message.
func convertMessages(systemPrompt string, messages []chat.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if txt := strings.TrimSpace(systemPrompt); txt != "" {
		out = append(out, openai.SystemMessage(txt))
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case chat.MessageRoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))

		case chat.MessageRoleUser:
			out = append(out, openai.UserMessage(msg.Text()))

		case chat.MessageRoleAssistant:
			calls := msg.ToolCalls()
			text := msg.Text()
			// Skip empty assistant messages, e.g. when max_tokens was reached.
			if len(calls) == 0 && strings.TrimSpace(text) == "" {
				continue
			}

			assistantParam := openai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				assistantParam.Content.OfString = param.NewOpt(text)
			}
			for _, call := range calls {
				args := call.RawArguments
				if args == "" {
					buf, _ := json.Marshal(call.Arguments)
					args = string(buf)
				}
				assistantParam.ToolCalls = append(assistantParam.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Name,
							Arguments: args,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantParam})

		case chat.MessageRoleTool:
			for _, r := range msg.ToolResults() {
				toolParam := openai.ChatCompletionToolMessageParam{ToolCallID: r.ToolCallID}
				toolParam.Content.OfString = param.NewOpt(r.Content)
				out = append(out, openai.ChatCompletionMessageParamUnion{OfTool: &toolParam})
			}
		}
	}
	return out
}
