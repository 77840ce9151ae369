package llm

import (
	"context"
	"strings"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message) (*Response, error)

	Streamer
}

// Streamer is the streaming half of a Provider.
type Streamer interface {
	// Stream sends a chat completion request and returns a channel of incremental
	// deltas. The channel is closed when the reply is complete.
	Stream(ctx context.Context, messages []Message) (<-chan Delta, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// StreamText streams a reply, calling onChunk with each non-empty fragment
// in arrival order, and returns the concatenated text. onChunk may be nil.
// On error the text received so far is returned with the error.
func StreamText(ctx context.Context, p Streamer, messages []Message, onChunk func(string)) (string, error) {
	stream, err := p.Stream(ctx, messages)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for {
		select {
		case <-ctx.Done():
			// Drain so the producer can exit.
			go func() {
				for range stream {
				}
			}()
			return buf.String(), ctx.Err()
		case delta, ok := <-stream:
			if !ok {
				return buf.String(), nil
			}
			if delta.Err != nil {
				return buf.String(), delta.Err
			}
			if delta.Content == "" {
				continue
			}
			buf.WriteString(delta.Content)
			if onChunk != nil {
				onChunk(delta.Content)
			}
		}
	}
}
