package mind

import (
	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/ai"
)

// LogLLMCall logs the prompt about to be sent. Call immediately before Complete.
func LogLLMCall(log zerolog.Logger, action string, req ai.Request, params map[string]string) {
	ev := log.Debug().Str("action", action)
	if !ev.Enabled() {
		return
	}
	for k, v := range params {
		if v != "" {
			ev = ev.Str(k, v)
		}
	}
	msgs := req.Messages()
	ev.Int("messages", len(msgs)).Int("system_len", len(req.SystemPrompt)).
		Str("prompt", preview(req.Prompt, 500)).Msg("llm call")

	for i, m := range msgs {
		log.Trace().Int("i", i).Str("role", m.Role).Int("len", len(m.Content)).
			Str("content", preview(m.Content, 200)).Msg("llm message")
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
