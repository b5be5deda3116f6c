package openai

import (
	"github.com/google/uuid"
)

// ChatCompletionChunk represents one chunk in the SSE streaming response.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// ChatCompletionChunkChoice represents a choice in a streaming chunk.
type ChatCompletionChunkChoice struct {
	Index        int              `json:"index"`
	Delta        ChatMessageDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason"`
}

// ChatMessageDelta represents the incremental content in a stream chunk.
type ChatMessageDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// NewCompletionID returns a fresh chatcmpl identifier.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// ContentChunk builds a delta chunk carrying visible text.
func ContentChunk(id, model, content string, created int64) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChatCompletionChunkChoice{{
			Index: 0,
			Delta: ChatMessageDelta{Content: content},
		}},
	}
}

// StopChunk builds the terminal chunk with finish_reason "stop".
func StopChunk(id, model string, created int64) ChatCompletionChunk {
	stop := "stop"
	return ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChatCompletionChunkChoice{{
			Index:        0,
			Delta:        ChatMessageDelta{},
			FinishReason: &stop,
		}},
	}
}

// NewConversationID generates an opaque caller-facing conversation id.
func NewConversationID() string {
	return "conv_" + uuid.NewString()
}
