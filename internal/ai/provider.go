package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable is returned by the null provider and by providers that are not configured.
	ErrUnavailable = errors.New("ai: provider unavailable")
	// ErrEmptyCompletion means the model answered with no choices or no text.
	ErrEmptyCompletion = errors.New("ai: empty completion")
	// ErrGarbage means the model answered with something that is clearly not a reply.
	ErrGarbage = errors.New("ai: garbage completion")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call: a prompt, prior turns and an optional system prompt.
type Request struct {
	Prompt       string
	Contexts     []Message
	SystemPrompt string
}

// Messages flattens the request into the chat-completions message list.
func (r Request) Messages() []Message {
	out := make([]Message, 0, len(r.Contexts)+2)
	if r.SystemPrompt != "" {
		out = append(out, Message{Role: "system", Content: r.SystemPrompt})
	}
	out = append(out, r.Contexts...)
	if r.Prompt != "" {
		out = append(out, Message{Role: "user", Content: r.Prompt})
	}
	return out
}

type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Null never answers.
type Null struct{}

func (Null) Complete(context.Context, Request) (string, error) { return "", ErrUnavailable }

// Options selects and configures a provider.
type Options struct {
	Engine  string // "openai", "pollinations" or "none"
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New builds the provider named by opts.Engine.
func New(opts Options) (Provider, error) {
	switch opts.Engine {
	case "none", "":
		return Null{}, nil
	case "pollinations":
		return NewHTTPProvider(HTTPOptions{
			Endpoint: "https://text.pollinations.ai/openai",
			Model:    orString(opts.Model, "openai"),
			Timeout:  opts.Timeout,
			Extra:    map[string]any{"private": true},
		}), nil
	case "openai":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("ai: engine %q needs a base url", opts.Engine)
		}
		return NewHTTPProvider(HTTPOptions{
			Endpoint: trimSlash(opts.BaseURL) + "/chat/completions",
			APIKey:   opts.APIKey,
			Model:    opts.Model,
			Timeout:  opts.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("ai: unsupported engine %q", opts.Engine)
	}
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
