package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ReceivedRequest captures one upstream call for assertions.
type ReceivedRequest struct {
	Path      string
	Body      []byte
	BrowserID string
}

// SSEUpstream is a scripted fake of the provider's streaming endpoint. Each
// configured chunk is written raw and flushed separately, so tests control
// exactly how SSE frames split across network reads.
type SSEUpstream struct {
	*httptest.Server

	mu       sync.Mutex
	chunks   []string
	requests []ReceivedRequest
}

// NewSSEUpstream starts a fake upstream that answers POST /api/chat with the
// given chunks and GET /api/models with a small fixed catalogue.
func NewSSEUpstream(t *testing.T, chunks ...string) *SSEUpstream {
	t.Helper()
	u := &SSEUpstream{chunks: chunks}
	u.Server = httptest.NewServer(http.HandlerFunc(u.handle))
	t.Cleanup(u.Server.Close)
	return u
}

// SetChunks replaces the scripted response for subsequent requests.
func (u *SSEUpstream) SetChunks(chunks ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.chunks = chunks
}

// Requests returns a copy of every request seen so far.
func (u *SSEUpstream) Requests() []ReceivedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]ReceivedRequest, len(u.requests))
	copy(out, u.requests)
	return out
}

func (u *SSEUpstream) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	browserID := ""
	if c, err := r.Cookie("browserId"); err == nil {
		browserID = c.Value
	}

	u.mu.Lock()
	u.requests = append(u.requests, ReceivedRequest{Path: r.URL.Path, Body: body, BrowserID: browserID})
	chunks := make([]string, len(u.chunks))
	copy(chunks, u.chunks)
	u.mu.Unlock()

	switch r.URL.Path {
	case "/api/chat":
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, chunk := range chunks {
			_, _ = io.WriteString(w, chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
	case "/api/models":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"models":[{"name":"orion-fast"},{"name":"orion-pro"}]}`)
	default:
		http.NotFound(w, r)
	}
}

// Frame wraps text into one upstream SSE data frame carrying a content field.
func Frame(content string) string {
	return "data: {\"content\": " + jsonQuote(content) + "}\n\n"
}

func jsonQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			out = append(out, '\\', c)
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case '\t':
			out = append(out, '\\', 't')
		default:
			out = append(out, c)
		}
	}
	return string(append(out, '"'))
}
