package mind

import (
	"fmt"
	"strings"

	"github.com/keshon/heartflow/internal/ai"
	"github.com/keshon/heartflow/internal/history"
)

const silenceRule = "If you have nothing worth adding, answer with exactly " + ai.NoResponse + " and nothing else."

const (
	forcedInstruction = "You were addressed directly in a group chat. Reply to the last message naturally and briefly, in the language it was written in."

	replyInstruction = "You are taking part in a group chat. Reply to the last message naturally and briefly, in the language it was written in."

	airReadingInstruction = "You are reading the room in a group chat. Decide whether joining in on the last message would be welcome. " +
		"If yes, write the reply itself. " + silenceRule

	immersiveInstruction = "You just replied to this user and they wrote again. Decide whether they are still talking to you. " +
		"If they are, continue the conversation with one short reply. If they moved on or are talking to someone else, stop. " + silenceRule

	proactiveInstruction = "The messages above arrived in the group after your last reply. Decide whether a short interjection would fit naturally. " +
		"Do not repeat yourself and do not answer questions aimed at others. " + silenceRule

	heartbeatInstruction = "The group chat has been lively. Decide whether to join the conversation with one short, relevant message. " + silenceRule
)

func systemPrompt(p Persona) string {
	if p.SystemPrompt != "" {
		return p.SystemPrompt
	}
	if p.Name != "" {
		return fmt.Sprintf("You are %s, a member of this group chat.", p.Name)
	}
	return ""
}

// buildRequest assembles a request from the chat history, an optional focus
// line and the instruction for this path.
func buildRequest(p Persona, hist []history.Record, focus, instruction string) ai.Request {
	var b strings.Builder
	if focus != "" {
		b.WriteString(focus)
		b.WriteString("\n\n")
	}
	b.WriteString(instruction)
	return ai.Request{
		Prompt:       b.String(),
		Contexts:     contextMessages(hist, BudgetShortContext*CharsPerToken),
		SystemPrompt: systemPrompt(p),
	}
}

func messageLine(ev Event) string {
	name := ev.SenderName
	if name == "" {
		name = ev.SenderID
	}
	return name + ": " + ev.Text
}

func decisionLine(res Result) string {
	c := res.Decision.Components
	return fmt.Sprintf("[willingness %.2f, threshold %.2f, activity %.2f, continuity %.2f, energy %.2f]",
		res.Score, res.Threshold, c.GroupActivity, c.Continuity, res.Decision.Energy)
}

func proactiveBlock(lines []string) string {
	body := TrimToChars(strings.Join(lines, "\n"), BudgetBufferLines*CharsPerToken)
	return "--- recent group chat ---\n" + body + "\n--- end ---"
}
