package ai

import (
	"regexp"
	"strings"
)

// NoResponse is the literal the model is asked to emit when it prefers to stay silent.
const NoResponse = "<NO_RESPONSE>"

var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ParseDecision interprets a continue-or-stop completion.
// It returns the text to send and true, or "" and false when the model chose
// silence or produced something that should not be sent.
func ParseDecision(raw string) (string, bool) {
	reply := cleanReply(raw)
	if reply == "" {
		return "", false
	}
	if strings.Contains(strings.ToUpper(reply), NoResponse) {
		return "", false
	}
	if !Sane(reply) {
		return "", false
	}
	return reply, true
}

// Sane reports whether text looks like an actual chat reply rather than an
// error page, a refusal stub or a formatting complaint.
func Sane(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return !isGarbageResponse(s)
}

func isGarbageResponse(s string) bool {
	l := strings.ToLower(s)

	if strings.Contains(l, "<html") {
		return true
	}
	if strings.Contains(l, "not allowed") {
		return true
	}
	if strings.HasPrefix(l, "{") && strings.Contains(l, "\"error\"") {
		return true
	}
	for _, kw := range []string{"invalid json", "json format", "format error"} {
		if strings.Contains(l, kw) {
			return true
		}
	}
	return false
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}

func cleanReply(reply string) string {
	reply = strings.TrimSpace(reply)
	reply = thinkRe.ReplaceAllString(reply, "")
	reply = strings.TrimSpace(reply)

	if len(reply) >= 2 {
		quotes := []struct{ open, close string }{
			{`"`, `"`}, {`'`, `'`}, {"“", "”"}, {"‘", "’"},
		}
		for _, q := range quotes {
			if strings.HasPrefix(reply, q.open) && strings.HasSuffix(reply, q.close) {
				reply = strings.TrimSuffix(strings.TrimPrefix(reply, q.open), q.close)
				reply = strings.TrimSpace(reply)
				break
			}
		}
	}

	if len(reply) > 2800 {
		reply = reply[:2800] + "\n\n[truncated]"
	}

	return reply
}

// Clean exposes the reply normalization used by providers.
func Clean(reply string) string { return cleanReply(reply) }
