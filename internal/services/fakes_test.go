package services

import (
	"context"
	"sync"
	"time"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

const testFallback = "I'm having trouble responding right now, please try again."

// fakeProvider answers from a script. A nil reply func echoes the last turn.
type fakeProvider struct {
	mu    sync.Mutex
	calls []types.ConversationContext
	reply func(ctx context.Context, convo types.ConversationContext) (string, error)
	delay time.Duration
}

func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) GenerateText(ctx context.Context, convo types.ConversationContext) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, convo)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.reply != nil {
		return f.reply(ctx, convo)
	}
	if n := len(convo.Turns); n > 0 {
		return "echo: " + convo.Turns[n-1].Content, nil
	}
	return "echo", nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) lastCall() types.ConversationContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func testAIConfig() config.AIConfig {
	return config.AIConfig{
		APIURL:           "http://unused",
		Model:            "fake-model",
		SystemPrompt:     "be brief",
		Temperature:      0.2,
		MaxOutputTokens:  512,
		Timeout:          time.Second,
		FallbackText:     testFallback,
		ContextWindow:    10,
		BreakerThreshold: 5,
		BreakerCooldown:  time.Minute,
	}
}
