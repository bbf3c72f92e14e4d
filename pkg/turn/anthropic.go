package turn

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codeready-toolchain/miniagent/pkg/reducer"
)

const anthropicMaxTokens = 4096

// anthropicStreamer drives the Anthropic Messages API.
type anthropicStreamer struct{}

func (a *anthropicStreamer) stream(ctx context.Context, cfg reducer.LLMConfig, msgs []reducer.Message) (<-chan Chunk, error) {
	key, err := resolveAPIKey(cfg)
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)

	params := sdk.MessageNewParams{
		Model:     sdk.Model(cfg.Model),
		MaxTokens: anthropicMaxTokens,
	}
	for _, m := range msgs {
		switch m.Role {
		case reducer.RoleSystem:
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Content})
		case reducer.RoleUser:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case reducer.RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)

		stream := client.Messages.NewStreaming(ctx, params)
		var full strings.Builder
		for stream.Next() {
			switch event := stream.Current().AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				if delta, ok := event.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
					full.WriteString(delta.Text)
					if !sendChunk(ctx, out, &TextChunk{Delta: delta.Text}) {
						return
					}
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
