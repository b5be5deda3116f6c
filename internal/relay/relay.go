package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/sahyogai/sahyog-gateway/internal/conversation"
	"github.com/sahyogai/sahyog-gateway/internal/identity"
	"github.com/sahyogai/sahyog-gateway/internal/ledger"
	"github.com/sahyogai/sahyog-gateway/internal/modelalias"
	"github.com/sahyogai/sahyog-gateway/internal/openai"
	"github.com/sahyogai/sahyog-gateway/internal/upstream"
)

// Upstream opens streaming chat requests against the provider.
type Upstream interface {
	Open(ctx context.Context, req upstream.StreamRequest, token string) (io.ReadCloser, error)
}

// StreamEvent is one item on the relay's outbound stream.
type StreamEvent struct {
	Chunk *openai.ChatCompletionChunk
	Err   error
}

// Stream is an in-flight streaming completion.
type Stream struct {
	ConversationID string
	Events         <-chan StreamEvent
}

// Config wires the relay's collaborators. Usage may be nil to skip analytics;
// Runner may be nil, in which case background work runs inline.
type Config struct {
	Aliases       modelalias.Store
	Conversations *conversation.Map
	Pool          *identity.Manager
	Upstream      Upstream
	Usage         ledger.Writer
	Runner        identity.Runner
	Logger        *log.Logger
}

// Relay translates OpenAI-style chat completions into upstream streaming
// sessions: alias resolution, conversation continuity, identity selection,
// and the SSE reparse/rewrite pipeline.
type Relay struct {
	aliases modelalias.Store
	convs   *conversation.Map
	pool    *identity.Manager
	client  Upstream
	usage   ledger.Writer
	runner  identity.Runner
	logger  *log.Logger
}

// New creates a Relay.
func New(cfg Config) *Relay {
	return &Relay{
		aliases: cfg.Aliases,
		convs:   cfg.Conversations,
		pool:    cfg.Pool,
		client:  cfg.Upstream,
		usage:   cfg.Usage,
		runner:  cfg.Runner,
		logger:  cfg.Logger,
	}
}

// Stream validates the request, opens the upstream stream and returns the
// conversation id plus a channel of translated chunks. The channel closes
// when the upstream transport closes; an in-band [DONE] from the provider is
// ignored. Cancelling ctx aborts the upstream read.
func (r *Relay) Stream(ctx context.Context, ownerID int64, req openai.ChatCompletionRequest) (*Stream, error) {
	s, err := r.prepare(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 10)
	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(events)
		res, runErr := s.run(ctx, func(text string) {
			chunk := openai.ContentChunk(s.completionID, s.model, text, s.created)
			send(StreamEvent{Chunk: &chunk})
		})
		s.finish(res)
		if runErr != nil {
			send(StreamEvent{Err: runErr})
			return
		}
		stop := openai.StopChunk(s.completionID, s.model, s.created)
		send(StreamEvent{Chunk: &stop})
	}()

	return &Stream{ConversationID: s.convID, Events: events}, nil
}

// Complete runs the full streaming session and consolidates it into one
// buffered response. A quota phrase detected anywhere in the stream turns the
// whole request into a 429.
func (r *Relay) Complete(ctx context.Context, ownerID int64, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s, err := r.prepare(ctx, ownerID, req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	res, runErr := s.run(ctx, nil)
	s.finish(res)
	if runErr != nil {
		return openai.ChatCompletionResponse{}, upstreamFailure(runErr)
	}
	if res.quota {
		return openai.ChatCompletionResponse{}, quotaExhaustedError()
	}

	usage := openai.UsageBreakdown{
		PromptTokens:     s.promptTokens,
		CompletionTokens: ledger.EstimateTokens(res.completion),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return openai.NewCompletionResponse(s.model, res.completion, s.convID, usage), nil
}

// session holds the per-request state between prepare and run.
type session struct {
	r            *Relay
	ownerID      int64
	convID       string
	model        string // caller-facing alias name
	ident        *identity.Identity
	body         io.ReadCloser
	completionID string
	created      int64
	promptTokens int
	streamed     bool
	bound        bool
}

// prepare implements the pre-flight pipeline: alias, conversation, prompt,
// identity, upstream connect.
func (r *Relay) prepare(ctx context.Context, ownerID int64, req openai.ChatCompletionRequest) (*session, error) {
	if len(req.Messages) == 0 {
		return nil, invalidRequest("messages must not be empty")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, invalidRequest("model is required")
	}

	alias, err := r.aliases.GetByName(ctx, req.Model)
	if err != nil {
		return nil, fmt.Errorf("resolve model alias %q: %w", req.Model, err)
	}
	if alias == nil || !alias.Active {
		return nil, modelUnavailable(req.Model)
	}

	convID := req.ConversationID
	if convID == "" {
		convID = openai.NewConversationID()
	}

	// Continuity is best-effort: a broken conversation store loses the
	// thread for this turn only.
	threadID, err := r.convs.Resolve(ctx, ownerID, convID)
	if err != nil {
		r.logf("conversation resolve failed, continuing without thread: %v", err)
		threadID = ""
	}

	prompt, imageFiles, err := extractPrompt(req.Messages)
	if err != nil {
		return nil, err
	}

	ident, err := r.pool.Acquire(ctx)
	if err != nil {
		r.logf("identity acquire failed, falling back to ephemeral: %v", err)
		ident = nil
	}
	token := ""
	if ident != nil {
		token = ident.Token
	} else {
		token = identity.NewToken()
		r.logf("no pooled identity available, using ephemeral token")
	}

	files := append([]string{}, req.Files...)
	files = append(files, imageFiles...)
	var filesRaw, audioRaw json.RawMessage
	if len(files) > 0 {
		filesRaw, _ = json.Marshal(files)
	}
	if req.InputAudio != "" {
		audioRaw, _ = json.Marshal(req.InputAudio)
	}

	body, err := r.client.Open(ctx, upstream.StreamRequest{
		Model:         alias.ProviderName,
		Prompt:        prompt,
		ThreadID:      threadID,
		WebSearch:     req.WebSearch,
		GenerateImage: req.GenerateImage,
		Reasoning:     req.Reasoning,
		AutoRoute:     req.AutoRoute,
		Files:         filesRaw,
		InputAudio:    audioRaw,
	}, token)
	if err != nil {
		return nil, upstreamFailure(err)
	}

	return &session{
		r:            r,
		ownerID:      ownerID,
		convID:       convID,
		model:        alias.CustomName,
		ident:        ident,
		body:         body,
		completionID: openai.NewCompletionID(),
		created:      time.Now().Unix(),
		promptTokens: estimatePromptTokens(req.Messages),
		streamed:     req.Stream,
	}, nil
}

// runResult summarises a drained upstream stream.
type runResult struct {
	completion string
	quota      bool
}

// run drains the upstream SSE body, reassembling frames that arrive split
// across reads, and pushes cleaned text through emit (may be nil). It returns
// only when the transport closes, errors, or ctx is cancelled.
func (s *session) run(ctx context.Context, emit func(string)) (runResult, error) {
	defer s.body.Close()

	var res runResult
	var full strings.Builder
	var filt streamFilter
	deliver := func(text string) {
		if text == "" {
			return
		}
		full.WriteString(text)
		if emit != nil {
			emit(text)
		}
	}

	buf := make([]byte, 8192)
	leftover := ""
	for {
		select {
		case <-ctx.Done():
			res.completion = full.String()
			return res, ctx.Err()
		default:
		}

		n, err := s.body.Read(buf)
		if n > 0 {
			data := leftover + string(buf[:n])
			lines := strings.Split(data, "\n")
			leftover = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				line = strings.TrimSuffix(line, "\r")
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				text, ok := decodeFrame(payload)
				if !ok {
					continue
				}
				cleaned, threadID := filt.feed(text)
				if threadID != "" && !s.bound {
					s.bound = true
					if berr := s.r.convs.Bind(ctx, s.ownerID, s.convID, threadID); berr != nil {
						s.r.logf("thread bind failed: %v", berr)
					}
				}
				if !res.quota && quotaPhrase(text) {
					res.quota = true
					s.r.logf("quota phrase detected, scheduling replenish")
					s.r.submit("pool.replenish", func(ctx context.Context) error {
						_, rerr := s.r.pool.Replenish(ctx)
						return rerr
					})
				}
				deliver(rewrite(cleaned))
			}
		}
		if err != nil {
			deliver(rewrite(filt.flush()))
			res.completion = full.String()
			if err == io.EOF {
				return res, nil
			}
			return res, fmt.Errorf("read upstream stream: %w", err)
		}
	}
}

// finish records usage in the background. Failures never reach the caller.
func (s *session) finish(res runResult) {
	s.r.submit("usage.record", func(ctx context.Context) error {
		if s.ident != nil {
			if _, _, err := s.r.pool.RecordUse(ctx, s.ident.ID); err != nil {
				s.r.logf("record identity use failed: %v", err)
			}
		}
		if s.r.usage == nil {
			return nil
		}
		completionTokens := ledger.EstimateTokens(res.completion)
		return s.r.usage.Record(ctx, ledger.Entry{
			OwnerID:          s.ownerID,
			Model:            s.model,
			PromptTokens:     s.promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      s.promptTokens + completionTokens,
			Streamed:         s.streamed,
			QuotaHit:         res.quota,
		})
	})
}

// decodeFrame extracts visible text from one SSE data payload. In-band [DONE]
// carries no text and does not end the stream.
func decodeFrame(payload string) (string, bool) {
	if payload == "" || payload == "[DONE]" {
		return "", false
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(payload), &obj); err == nil {
		return obj.Content, obj.Content != ""
	}
	var s string
	if err := json.Unmarshal([]byte(payload), &s); err == nil {
		return s, s != ""
	}
	return payload, true
}

// extractPrompt pulls the upstream prompt from the final message. Structured
// content contributes its text parts; image parts become file references plus
// an [IMAGE] placeholder in the prompt.
func extractPrompt(messages []openai.ChatMessage) (string, []string, error) {
	last := messages[len(messages)-1]

	if text, ok := last.Text(); ok {
		if strings.TrimSpace(text) == "" {
			return "", nil, invalidRequest("final message has no content")
		}
		return text, nil, nil
	}

	parts, ok := last.Parts()
	if !ok {
		return "", nil, invalidRequest("final message content must be a string or content part list")
	}
	var sb strings.Builder
	var files []string
	for _, p := range parts {
		switch p.Type {
		case "text":
			sb.WriteString(p.Text)
		case "image_url":
			if p.ImageURL != nil && p.ImageURL.URL != "" {
				files = append(files, p.ImageURL.URL)
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.WriteString("[IMAGE]")
			}
		}
	}
	prompt := sb.String()
	if strings.TrimSpace(prompt) == "" {
		return "", nil, invalidRequest("final message has no content")
	}
	return prompt, files, nil
}

// estimatePromptTokens approximates prompt size from raw text length, floored
// at two tokens per message for framing overhead.
func estimatePromptTokens(messages []openai.ChatMessage) int {
	chars := 0
	for _, m := range messages {
		if text, ok := m.Text(); ok {
			chars += len(text)
			continue
		}
		if parts, ok := m.Parts(); ok {
			for _, p := range parts {
				chars += len(p.Text)
			}
		}
	}
	tokens := chars/4 + 1
	if floor := 2 * len(messages); tokens < floor {
		tokens = floor
	}
	return tokens
}

func (r *Relay) submit(name string, fn func(ctx context.Context) error) {
	if r.runner == nil {
		if err := fn(context.Background()); err != nil {
			r.logf("%s failed: %v", name, err)
		}
		return
	}
	r.runner.Submit(name, fn)
}

func (r *Relay) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
