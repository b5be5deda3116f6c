package relay

import (
	"regexp"
	"strings"
)

const (
	threadMarkerStart = "[THREAD_ID:"
	thinkOpen         = "<think>"
)

var thinkCloseTags = []string{"</think>", "</redacted_reasoning>"}

var (
	providerHostRe  = regexp.MustCompile(`(?i)kyvex\.ai`)
	providerBrandRe = regexp.MustCompile(`(?i)\bkyvex\b`)
)

// rewrite applies the fixed provider-to-brand substitutions. The host rewrite
// runs first so the brand word never matches inside an already-replaced host.
func rewrite(s string) string {
	s = providerHostRe.ReplaceAllString(s, "aakashsingh.com")
	return providerBrandRe.ReplaceAllString(s, "sahyogAI")
}

// quotaPhrase reports whether the upstream text signals an exhausted quota.
func quotaPhrase(s string) bool {
	l := strings.ToLower(s)
	if strings.Contains(l, "limit reached") {
		return true
	}
	return strings.Contains(l, "sign up") && strings.Contains(l, "limit")
}

// streamFilter strips reasoning markup and thread-id markers from upstream
// text. It is stateful: a construct may arrive split across frames, so any
// ambiguous tail is held back until the next feed resolves it.
type streamFilter struct {
	thinking bool
	pending  string
}

// feed processes one frame of upstream text. It returns the text safe to
// forward and the first thread id found in this frame ("" when none). Every
// marker is stripped whether or not its id is used.
func (f *streamFilter) feed(text string) (emit, threadID string) {
	buf := f.pending + text
	f.pending = ""
	var out strings.Builder

	for buf != "" {
		if f.thinking {
			idx, width := earliestCloseTag(buf)
			if idx < 0 {
				f.pending = partialSuffix(buf, thinkCloseTags...)
				return out.String(), threadID
			}
			buf = buf[idx+width:]
			f.thinking = false
			continue
		}

		oi := strings.Index(buf, thinkOpen)
		mi := strings.Index(buf, threadMarkerStart)
		switch {
		case mi >= 0 && (oi < 0 || mi < oi):
			end := strings.Index(buf[mi:], "]")
			if end < 0 {
				out.WriteString(buf[:mi])
				f.pending = buf[mi:]
				return out.String(), threadID
			}
			if id := buf[mi+len(threadMarkerStart) : mi+end]; threadID == "" {
				threadID = id
			}
			out.WriteString(buf[:mi])
			buf = buf[mi+end+1:]

		case oi >= 0:
			out.WriteString(buf[:oi])
			buf = buf[oi+len(thinkOpen):]
			f.thinking = true

		default:
			tail := partialSuffix(buf, thinkOpen, threadMarkerStart)
			out.WriteString(buf[:len(buf)-len(tail)])
			f.pending = tail
			return out.String(), threadID
		}
	}
	return out.String(), threadID
}

// flush releases any held-back tail at end of stream. Text held inside an
// unterminated reasoning block is dropped.
func (f *streamFilter) flush() string {
	out := f.pending
	f.pending = ""
	if f.thinking {
		return ""
	}
	return out
}

func earliestCloseTag(s string) (idx, width int) {
	idx = -1
	for _, tag := range thinkCloseTags {
		if i := strings.Index(s, tag); i >= 0 && (idx < 0 || i < idx) {
			idx, width = i, len(tag)
		}
	}
	return idx, width
}

// partialSuffix returns the longest suffix of s that is a proper prefix of
// any token, i.e. text that might continue into one of the tokens.
func partialSuffix(s string, tokens ...string) string {
	best := ""
	for _, tok := range tokens {
		max := len(tok) - 1
		if max > len(s) {
			max = len(s)
		}
		for n := max; n > len(best); n-- {
			if strings.HasSuffix(s, tok[:n]) {
				best = s[len(s)-n:]
				break
			}
		}
	}
	return best
}
