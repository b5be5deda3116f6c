package openai

import (
	"encoding/json"
	"time"
)

// ChatCompletionRequest captures the subset of OpenAI's request the gateway supports,
// plus the conversation_id extension used for upstream thread continuity.
type ChatCompletionRequest struct {
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
	Stream         bool          `json:"stream,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Temperature    *float64      `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	// Auxiliary upstream flags accepted alongside the standard fields.
	WebSearch     bool     `json:"webSearch,omitempty"`
	GenerateImage bool     `json:"generateImage,omitempty"`
	Reasoning     bool     `json:"reasoning,omitempty"`
	Files         []string `json:"files,omitempty"`
	InputAudio    string   `json:"inputAudio,omitempty"`
	AutoRoute     bool     `json:"autoRoute,omitempty"`
}

// ChatMessage follows OpenAI's role/content schema. Content is either a plain
// string or a list of typed parts (vision format); use Text/Parts to decode.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentPart is one element of a structured message content list.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference (remote URL or data URI).
type ImageURL struct {
	URL string `json:"url"`
}

// Text returns the message content when it is a plain JSON string.
func (m ChatMessage) Text() (string, bool) {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// Parts returns the structured content list, if the content is one.
func (m ChatMessage) Parts() ([]ContentPart, bool) {
	var parts []ContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return nil, false
	}
	return parts, true
}

// TextMessage builds a plain-text message, mainly for tests and internal use.
func TextMessage(role, text string) ChatMessage {
	raw, _ := json.Marshal(text)
	return ChatMessage{Role: role, Content: raw}
}

// ChatCompletionResponse mirrors the OpenAI schema with a single choice.
type ChatCompletionResponse struct {
	ID             string                 `json:"id"`
	Object         string                 `json:"object"`
	Created        int64                  `json:"created"`
	Model          string                 `json:"model"`
	Choices        []ChatCompletionChoice `json:"choices"`
	Usage          UsageBreakdown         `json:"usage"`
	ConversationID string                 `json:"conversation_id,omitempty"`
}

// ChatCompletionChoice contains the generated message.
type ChatCompletionChoice struct {
	Index        int             `json:"index"`
	FinishReason string          `json:"finish_reason"`
	Message      ResponseMessage `json:"message"`
}

// ResponseMessage is the assistant message returned to the caller.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UsageBreakdown provides token accounting estimates.
type UsageBreakdown struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewCompletionResponse builds a consolidated non-streaming response.
func NewCompletionResponse(model, content, conversationID string, usage UsageBreakdown) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      ResponseMessage{Role: "assistant", Content: content},
		}},
		Usage:          usage,
		ConversationID: conversationID,
	}
}

// ErrorResponse is the OpenAI-style error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message and machine-readable code.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Model is one entry in the GET /v1/models listing.
type Model struct {
	ID         string   `json:"id"`
	Object     string   `json:"object"`
	Created    int64    `json:"created"`
	OwnedBy    string   `json:"owned_by"`
	Permission []string `json:"permission"`
	Root       string   `json:"root"`
	Parent     *string  `json:"parent"`
}

// ModelList is the GET /v1/models envelope.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
