package mind

import (
	"regexp"
	"strings"
)

var (
	atTokenRe        = regexp.MustCompile(`@([\p{L}\p{N}_]+)`)
	fallbackKeywords = []string{"bot", "ai", "assistant", "robot", "机器人", "助手"}
)

// MentionDetector decides whether a message addresses the bot. Keywords come
// from the current persona so renames take effect without a restart.
type MentionDetector struct {
	keywords func() []string
}

func NewMentionDetector(keywords func() []string) *MentionDetector {
	return &MentionDetector{keywords: keywords}
}

// PersonaKeywords derives mention keywords from a persona source plus extra configured ones.
func PersonaKeywords(src PersonaSource, extra []string) func() []string {
	return func() []string {
		var out []string
		if src != nil {
			p := src.Persona()
			if p.Name != "" {
				out = append(out, p.Name)
			}
			out = append(out, p.Keywords...)
		}
		return append(out, extra...)
	}
}

func (d *MentionDetector) words() []string {
	var kw []string
	if d != nil && d.keywords != nil {
		kw = d.keywords()
	}
	if len(kw) == 0 {
		kw = fallbackKeywords
	}
	out := make([]string, 0, len(kw))
	for _, k := range kw {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Addressed reports whether ev is explicitly directed at the bot: the
// transport flagged it, or an @handle contains one of the bot's names.
// Only addressed messages take the forced reply path.
func (d *MentionDetector) Addressed(ev Event) bool {
	if ev.Mentioned {
		return true
	}
	text := ev.RawText
	if text == "" {
		text = ev.Text
	}
	if !strings.Contains(text, "@") {
		return false
	}
	kw := d.words()
	for _, m := range atTokenRe.FindAllStringSubmatch(strings.ToLower(text), -1) {
		for _, k := range kw {
			if strings.Contains(m[1], k) {
				return true
			}
		}
	}
	return false
}

// Mentioned is the looser test used to boost heartbeat activity: a message
// that opens with an @handle counts even when it names someone else.
func (d *MentionDetector) Mentioned(ev Event) bool {
	if d.Addressed(ev) {
		return true
	}
	text := ev.RawText
	if text == "" {
		text = ev.Text
	}
	return strings.HasPrefix(strings.TrimSpace(text), "@")
}
