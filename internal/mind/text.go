package mind

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	tokenRe = regexp.MustCompile(`\p{Han}+|[a-zA-Z]+|\d+`)
	wordRe  = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

var stopWords = toSet(
	"的", "了", "在", "是", "我", "有", "和", "就", "不", "人", "都", "一", "一个",
	"上", "也", "很", "到", "说", "要", "去", "你", "会", "着", "没有", "看", "好",
	"自己", "这", "那", "吗", "吧", "啊", "呢",
	"the", "and", "is", "are", "was", "were", "to", "of", "in", "on", "it", "that",
	"this", "for", "with", "be", "do", "so", "at", "as", "or", "an", "my", "me",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// tokens extracts lowercase content tokens: runs of Han characters, latin words
// and digit groups, dropping single characters and stop words.
func tokens(s string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(s), -1)
	out := raw[:0]
	for _, t := range raw {
		if utf8.RuneCountInString(t) <= 1 {
			continue
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Similarity compares two texts by cosine similarity over token counts,
// mapped through a sigmoid centered on 0.6. Empty input yields 0.
func Similarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	va, vb := counts(ta), counts(tb)
	var dot, na, nb float64
	for w, x := range va {
		na += x * x
		if y, ok := vb[w]; ok {
			dot += x * y
		}
	}
	for _, y := range vb {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 / (1 + math.Exp(-8*(cos-0.6)))
}

func counts(ts []string) map[string]float64 {
	m := make(map[string]float64, len(ts))
	for _, t := range ts {
		m[t]++
	}
	return m
}

// wordOverlap is the Jaccard index of the word sets of a and b.
func wordOverlap(a, b string) float64 {
	wa := toSet(wordRe.FindAllString(strings.ToLower(a), -1)...)
	wb := toSet(wordRe.FindAllString(strings.ToLower(b), -1)...)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

// Marker lists used to classify a message. ASCII words match whole words,
// everything else matches as a substring.
var (
	questionMarkers = []string{"?", "？", "what", "how", "why", "where", "when", "who", "什么", "怎么", "为什么", "如何", "哪里", "哪个", "谁"}
	emotionMarkers  = []string{"thanks", "thank", "thx", "lol", "haha", "great", "awesome", "love", "nice", "谢谢", "感谢", "哈哈", "太棒", "厉害", "😂", "😊", "👍", "❤"}
	helpMarkers     = []string{"help", "please", "advice", "suggest", "stuck", "帮", "求助", "不会", "不懂", "请教", "指导", "建议"}
	shareMarkers    = []string{"share", "recommend", "found", "saw", "heard", "think", "分享", "推荐", "发现", "看到", "听说", "觉得"}
	negativeMarkers = []string{"hate", "annoying", "angry", "sad", "disappointed", "ugh", "烦", "讨厌", "生气", "愤怒", "失望", "难过", "😠", "😢"}
)

type messageKind struct {
	question, emotion, help, share, negative bool
}

func classify(text string) messageKind {
	lower := strings.ToLower(text)
	words := toSet(wordRe.FindAllString(lower, -1)...)
	return messageKind{
		question: hasMarker(lower, words, questionMarkers),
		emotion:  hasMarker(lower, words, emotionMarkers),
		help:     hasMarker(lower, words, helpMarkers),
		share:    hasMarker(lower, words, shareMarkers),
		negative: hasMarker(lower, words, negativeMarkers),
	}
}

func hasMarker(lower string, words map[string]struct{}, markers []string) bool {
	for _, m := range markers {
		if isASCIIWord(m) {
			if _, ok := words[m]; ok {
				return true
			}
			continue
		}
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isASCIIWord(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return s != ""
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }
