package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/miniagent/pkg/reducer"
)

// streamer is one provider adapter behind the router.
type streamer interface {
	// stream opens the provider request and returns the chunk channel. An
	// error here means nothing was streamed yet and the attempt is safe to
	// retry; once the channel exists, failures arrive as ErrorChunk values.
	stream(ctx context.Context, cfg reducer.LLMConfig, msgs []reducer.Message) (<-chan Chunk, error)
}

// Options configures a Router.
type Options struct {
	// Default is used when the conversation never set its own config.
	Default reducer.LLMConfig
	// Attempts bounds how many times a turn start is tried.
	Attempts int
	// AttemptTimeout bounds a single streaming attempt end to end. Zero
	// means no bound beyond the caller's context.
	AttemptTimeout time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Router dispatches turns to the provider adapter matching the
// conversation's llm_api_format, retrying failed starts with backoff.
// Retries happen only before the first chunk; once streaming has begun a
// failure reaches the caller as an ErrorChunk so partial output is not
// silently replayed.
type Router struct {
	opts      Options
	providers map[string]streamer
}

// NewRouter builds a router over the built-in provider adapters.
func NewRouter(opts Options) *Router {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		opts: opts,
		providers: map[string]streamer{
			FormatOpenAIChat:      &openAIChatStreamer{},
			FormatOpenAIResponses: &openAIResponsesStreamer{},
			FormatAnthropic:       &anthropicStreamer{},
			FormatGemini:          &openAIChatStreamer{defaultBaseURL: geminiBaseURL},
		},
	}
}

// Execute implements Service.
func (r *Router) Execute(ctx context.Context, st reducer.State) (<-chan Chunk, error) {
	cfg := r.opts.Default
	if st.LLMConfig != nil {
		cfg = *st.LLMConfig
	}
	p, ok := r.providers[cfg.APIFormat]
	if !ok {
		return nil, &Error{Provider: cfg.APIFormat, Err: fmt.Errorf("unsupported llm_api_format %q", cfg.APIFormat)}
	}

	var lastErr error
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		ch, err := r.attempt(ctx, p, cfg, st.Messages)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		r.opts.Logger.Warn("turn start failed",
			"api_format", cfg.APIFormat,
			"model", cfg.Model,
			"attempt", attempt,
			"error", err)
		if attempt < r.opts.Attempts {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return nil, &Error{Provider: cfg.APIFormat, Err: ctx.Err()}
			}
		}
	}
	return nil, &Error{Provider: cfg.APIFormat, Err: lastErr}
}

// attempt runs one streaming attempt, bounding it with AttemptTimeout when
// configured. The timeout's cancel is tied to stream completion so the
// returned channel stays valid past this call.
func (r *Router) attempt(ctx context.Context, p streamer, cfg reducer.LLMConfig, msgs []reducer.Message) (<-chan Chunk, error) {
	if r.opts.AttemptTimeout <= 0 {
		return p.stream(ctx, cfg, msgs)
	}

	tctx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
	ch, err := p.stream(tctx, cfg, msgs)
	if err != nil {
		cancel()
		return nil, err
	}
	out := make(chan Chunk)
	go func() {
		defer cancel()
		defer close(out)
		for c := range ch {
			if !sendChunk(ctx, out, c) {
				return
			}
		}
	}()
	return out, nil
}
