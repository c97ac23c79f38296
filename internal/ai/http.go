package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/logging"
	"github.com/keshon/heartflow/pkg/retrylimit"
)

// HTTPOptions configures an OpenAI-compatible chat-completions client.
type HTTPOptions struct {
	Endpoint    string // full URL of the completions endpoint
	APIKey      string
	Model       string
	Timeout     time.Duration
	Extra       map[string]any // merged into the request payload
	MaxAttempts int
	Limiter     *retrylimit.AdaptiveLimiter
}

// HTTPProvider talks to any OpenAI-compatible endpoint.
//
// Transport errors are retried by the retryablehttp client; 429 and 5xx
// answers are retried by retrylimit, which also slows the adaptive limiter.
type HTTPProvider struct {
	opts   HTTPOptions
	client *retryablehttp.Client
	lim    *retrylimit.AdaptiveLimiter
	retry  retrylimit.RetryConfig
	log    zerolog.Logger
}

func NewHTTPProvider(opts HTTPOptions) *HTTPProvider {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	lim := opts.Limiter
	if lim == nil {
		lim = retrylimit.NewAdaptiveLimiter(2, 1, 5, 1, 0.5)
	}

	log := logging.For("ai")

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 300 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = opts.Timeout
	client.Logger = leveledLogger{log: log}
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil {
			// status codes are classified by Complete
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	retry := retrylimit.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxAttempts
	retry.MaxDelay = 4 * time.Second
	retry.RateLimitDelay = time.Second
	retry.Logger = &log

	return &HTTPProvider{opts: opts, client: client, lim: lim, retry: retry, log: log}
}

// Complete sends one chat-completions request and returns the cleaned reply.
func (p *HTTPProvider) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	var reply string
	err := retrylimit.WithRetryConfig(ctx, func() error {
		out, err := p.do(ctx, req)
		if err != nil {
			return err
		}
		reply = out
		return nil
	}, p.lim, p.retry)
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (p *HTTPProvider) do(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model":    p.opts.Model,
		"messages": req.Messages(),
	}
	for k, v := range p.opts.Extra {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &retrylimit.FatalError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	hreq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint, body)
	if err != nil {
		return "", &retrylimit.FatalError{Err: err}
	}
	hreq.Header.Set("Content-Type", "application/json")
	if p.opts.APIKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	}

	resp, err := p.client.Do(hreq)
	if err != nil {
		// the client already retried transport failures
		return "", &retrylimit.FatalError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &statusError{
			code: resp.StatusCode,
			body: truncate(respBody),
			// zero unless the server sent Retry-After on a 429 or 503
			wait: retryablehttp.DefaultBackoff(0, p.retry.MaxDelay, 0, resp),
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", se
		}
		return "", &retrylimit.FatalError{Err: se}
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return "", &retrylimit.FatalError{Err: fmt.Errorf("%w: html response", ErrGarbage)}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &retrylimit.FatalError{Err: fmt.Errorf("unmarshal: %w body=%s", err, truncate(respBody))}
	}
	if len(parsed.Choices) == 0 {
		return "", &retrylimit.FatalError{Err: ErrEmptyCompletion}
	}

	reply := cleanReply(parsed.Choices[0].Message.Content)
	if reply == "" {
		return "", &retrylimit.FatalError{Err: ErrEmptyCompletion}
	}
	return reply, nil
}

type statusError struct {
	code int
	body string
	wait time.Duration
}

func (e *statusError) Error() string             { return fmt.Sprintf("status=%d body=%s", e.code, e.body) }
func (e *statusError) StatusCode() int           { return e.code }
func (e *statusError) RetryAfter() time.Duration { return e.wait }

// leveledLogger routes retryablehttp logs into zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }
