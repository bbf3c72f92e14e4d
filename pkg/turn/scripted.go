package turn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/miniagent/pkg/reducer"
)

// Scripted is an offline Service that replays canned replies, streaming each
// one word by word. When the script runs out it echoes the latest user
// message. Used by tests and by local runs without provider credentials.
type Scripted struct {
	// Delay is inserted between consecutive deltas.
	Delay time.Duration
	// StartErr, when set, makes Execute fail before streaming.
	StartErr error
	// StreamErr, when set, ends the stream with an ErrorChunk after the
	// first delta.
	StreamErr error

	mu      sync.Mutex
	replies []string
	next    int
}

// NewScripted returns a service that plays the given replies in order.
func NewScripted(replies ...string) *Scripted {
	return &Scripted{replies: replies}
}

// Execute implements Service.
func (s *Scripted) Execute(ctx context.Context, st reducer.State) (<-chan Chunk, error) {
	if s.StartErr != nil {
		return nil, s.StartErr
	}

	s.mu.Lock()
	var reply string
	if s.next < len(s.replies) {
		reply = s.replies[s.next]
		s.next++
	} else {
		reply = "You said: " + lastUserContent(st.Messages)
	}
	s.mu.Unlock()

	out := make(chan Chunk)
	go func() {
		defer close(out)

		words := strings.SplitAfter(reply, " ")
		var full strings.Builder
		for i, w := range words {
			if i > 0 && s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					return
				}
			}
			full.WriteString(w)
			if !sendChunk(ctx, out, &TextChunk{Delta: w}) {
				return
			}
			if s.StreamErr != nil {
				sendChunk(ctx, out, &ErrorChunk{Message: s.StreamErr.Error(), Retryable: false})
				return
			}
		}
		sendChunk(ctx, out, &MessageChunk{Content: full.String()})
	}()
	return out, nil
}

func lastUserContent(msgs []reducer.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == reducer.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
