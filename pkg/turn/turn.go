// Package turn executes streaming model turns against pluggable providers.
//
// A Service takes the conversation's derived state and returns a channel of
// chunks: zero or more text deltas followed by exactly one final message.
// Provider errors are delivered in-band as ErrorChunk values; the channel is
// closed when the turn ends. Producers observe context cancellation and
// release the underlying request promptly when the consumer stops pulling.
package turn

import (
	"context"
	"fmt"
	"os"

	"github.com/codeready-toolchain/miniagent/pkg/reducer"
)

// Supported llm_api_format values.
const (
	FormatOpenAIResponses = "openai-responses"
	FormatOpenAIChat      = "openai-chat-completions"
	FormatAnthropic       = "anthropic"
	FormatGemini          = "gemini"
)

// Formats lists every supported api format.
func Formats() []string {
	return []string{FormatOpenAIResponses, FormatOpenAIChat, FormatAnthropic, FormatGemini}
}

// Service executes one streaming model turn. Execute must not mutate the
// given state; the caller owns event identity and stamps the resulting
// events itself.
type Service interface {
	Execute(ctx context.Context, st reducer.State) (<-chan Chunk, error)
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

// Chunk type identifiers.
const (
	ChunkTypeText    ChunkType = "text"
	ChunkTypeMessage ChunkType = "message"
	ChunkTypeError   ChunkType = "error"
)

// TextChunk is one streamed span of the model's reply.
type TextChunk struct{ Delta string }

// MessageChunk is the complete final reply, emitted once at stream end.
type MessageChunk struct{ Content string }

// ErrorChunk signals a provider failure; it terminates the turn.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType    { return ChunkTypeText }
func (c *MessageChunk) chunkType() ChunkType { return ChunkTypeMessage }
func (c *ErrorChunk) chunkType() ChunkType   { return ChunkTypeError }

// Error reports that a turn could not be started (or failed after the
// service's retries were exhausted).
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("turn against %s failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// defaultKeyEnv maps api formats to their conventional key variables.
var defaultKeyEnv = map[string]string{
	FormatOpenAIResponses: "OPENAI_API_KEY",
	FormatOpenAIChat:      "OPENAI_API_KEY",
	FormatAnthropic:       "ANTHROPIC_API_KEY",
	FormatGemini:          "GEMINI_API_KEY",
}

// resolveAPIKey reads the provider key from the configured env var, falling
// back to the format's conventional variable.
func resolveAPIKey(cfg reducer.LLMConfig) (string, error) {
	env := cfg.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv[cfg.APIFormat]
	}
	if key := os.Getenv(env); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no API key in $%s", env)
}

// sendChunk delivers a chunk unless the consumer is gone.
func sendChunk(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
