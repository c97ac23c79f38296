package mind

import "testing"

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		a, b   string
		lo, hi float64
	}{
		{"identical", "the deployment failed on staging", "the deployment failed on staging", 0.9, 1},
		{"unrelated", "deployment failed on staging", "lunch plans tomorrow", 0, 0.05},
		{"empty", "", "anything here", 0, 0},
		{"stop words only", "the and is", "the and is", 0, 0},
		{"han runs", "今天天气不错", "今天天气不错", 0.9, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if got < tt.lo || got > tt.hi {
				t.Fatalf("Similarity(%q, %q) = %.3f, want [%.2f, %.2f]", tt.a, tt.b, got, tt.lo, tt.hi)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want messageKind
	}{
		{"ok", messageKind{}},
		{"how do I fix this?", messageKind{question: true}},
		{"thanks a lot", messageKind{emotion: true}},
		{"thanksgiving dinner", messageKind{}},
		{"please help, I'm stuck", messageKind{help: true}},
		{"I hate this build", messageKind{negative: true}},
		{"我觉得这个不错", messageKind{share: true}},
		{"为什么", messageKind{question: true}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := classify(tt.text); got != tt.want {
				t.Fatalf("classify(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestWordOverlap(t *testing.T) {
	if got := wordOverlap("a b c", "a b c"); got != 1 {
		t.Fatalf("same words = %v", got)
	}
	if got := wordOverlap("a b", "c d"); got != 0 {
		t.Fatalf("disjoint = %v", got)
	}
	if got := wordOverlap("a b", "b c"); got < 0.33 || got > 0.34 {
		t.Fatalf("half overlap = %v", got)
	}
}
