package llm

import "context"

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Client defines the interface for reply-generation providers.
type Client interface {
	// GenerateReply generates the assistant's reply for the conversation
	// so far. The reply text is streamed through the channel.
	GenerateReply(ctx context.Context, history []Message) (<-chan string, error)

	// Summarize produces a short digest of the conversation, used to
	// seed guest-buffer migration and conversation titles.
	Summarize(ctx context.Context, history []Message) (string, error)
}
