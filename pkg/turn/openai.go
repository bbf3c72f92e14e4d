package turn

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"

	"github.com/codeready-toolchain/miniagent/pkg/reducer"
)

// geminiBaseURL is Google's OpenAI-compatible endpoint; the gemini format is
// the chat completions adapter pointed there.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

func newOpenAIClient(cfg reducer.LLMConfig, defaultBaseURL string) (openai.Client, error) {
	key, err := resolveAPIKey(cfg)
	if err != nil {
		return openai.Client{}, err
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...), nil
}

// openAIChatStreamer drives the Chat Completions API. It also serves
// OpenAI-compatible endpoints such as Gemini's.
type openAIChatStreamer struct {
	defaultBaseURL string
}

func (o *openAIChatStreamer) stream(ctx context.Context, cfg reducer.LLMConfig, msgs []reducer.Message) (<-chan Chunk, error) {
	client, err := newOpenAIClient(cfg, o.defaultBaseURL)
	if err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case reducer.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case reducer.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case reducer.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(cfg.Model),
		Messages: messages,
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)

		stream := client.Chat.Completions.NewStreaming(ctx, params)
		var full strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				full.WriteString(delta)
				if !sendChunk(ctx, out, &TextChunk{Delta: delta}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			sendChunk(ctx, out, &ErrorChunk{Message: err.Error(), Retryable: true})
			return
		}
		sendChunk(ctx, out, &MessageChunk{Content: full.String()})
	}()
	return out, nil
}

// openAIResponsesStreamer drives the Responses API.
type openAIResponsesStreamer struct{}

func (o *openAIResponsesStreamer) stream(ctx context.Context, cfg reducer.LLMConfig, msgs []reducer.Message) (<-chan Chunk, error) {
	client, err := newOpenAIClient(cfg, "")
	if err != nil {
		return nil, err
	}

	items := make([]responses.ResponseInputItemUnionParam, 0, len(msgs))
	for _, m := range msgs {
		message := responses.EasyInputMessageParam{
			Role:    responsesRole(m.Role),
			Type:    "message",
			Content: responses.EasyInputMessageContentUnionParam{OfString: param.NewOpt(m.Content)},
		}
		items = append(items, responses.ResponseInputItemUnionParam{OfMessage: &message})
	}
	params := responses.ResponseNewParams{
		Model: cfg.Model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)

		stream := client.Responses.NewStreaming(ctx, params)
		var full strings.Builder
		for stream.Next() {
			evt := stream.Current()
			if evt.Type != "response.output_text.delta" {
				continue
			}
			if delta := evt.AsResponseOutputTextDelta().Delta; delta != "" {
				full.WriteString(delta)
				if !sendChunk(ctx, out, &TextChunk{Delta: delta}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			sendChunk(ctx, out, &ErrorChunk{Message: err.Error(), Retryable: true})
			return
		}
		sendChunk(ctx, out, &MessageChunk{Content: full.String()})
	}()
	return out, nil
}

func responsesRole(role string) responses.EasyInputMessageRole {
	switch role {
	case reducer.RoleSystem:
		return responses.EasyInputMessageRoleSystem
	case reducer.RoleAssistant:
		return responses.EasyInputMessageRoleAssistant
	default:
		return responses.EasyInputMessageRoleUser
	}
}
