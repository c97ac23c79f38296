// Package replay feeds a recorded transcript through the engine with a
// scripted model and reports every decision, for tuning offline.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/ai"
	"github.com/keshon/heartflow/internal/mind"
)

// Line is one transcript entry. At is absolute; when it is missing, After
// is added to the previous entry's time.
type Line struct {
	Group     string    `json:"group"`
	Channel   string    `json:"channel"`
	User      string    `json:"user"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	Mentioned bool      `json:"mentioned"`
	Image     bool      `json:"image"`
	At        time.Time `json:"at"`
	After     string    `json:"after"`
}

// Decision is what the engine did with one line.
type Decision struct {
	Line      int
	At        time.Time
	Group     string
	User      string
	Path      mind.Path
	Score     float64
	Threshold float64
	Reason    string
	Reply     string
}

type Summary struct {
	Lines   int
	Replies int
	Paths   map[mind.Path]int
}

// Options configure a run. Replies are returned by the scripted model in
// turn, cycling; an empty list makes the model always stay silent.
type Options struct {
	Config  mind.Config
	Replies []string
	Persona mind.Persona
	Start   time.Time
	Logger  zerolog.Logger
}

// ScriptedProvider answers from a fixed list.
type ScriptedProvider struct {
	mu      sync.Mutex
	replies []string
	next    int
	Calls   int
}

func NewScriptedProvider(replies []string) *ScriptedProvider {
	return &ScriptedProvider{replies: replies}
}

func (p *ScriptedProvider) Complete(ctx context.Context, _ ai.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	if len(p.replies) == 0 {
		return ai.NoResponse, nil
	}
	r := p.replies[p.next%len(p.replies)]
	p.next++
	return r, nil
}

type capture struct {
	mu   sync.Mutex
	last string
}

func (c *capture) Send(_ context.Context, _, text string) error {
	c.mu.Lock()
	c.last = text
	c.mu.Unlock()
	return nil
}

func (c *capture) take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.last
	c.last = ""
	return s
}

// Run replays the transcript in r. Background producers (heartbeat and
// proactive timers) do not run; only the inbound path is exercised.
func Run(ctx context.Context, r io.Reader, opts Options, emit func(Decision)) (Summary, error) {
	var (
		mu    sync.Mutex
		clock = opts.Start
	)
	if clock.IsZero() {
		clock = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	cfg := opts.Config
	cfg.ProactiveDelay = 24 * time.Hour
	out := &capture{}
	e := mind.New(cfg, mind.Deps{
		Provider: NewScriptedProvider(opts.Replies),
		Sender:   out,
		Persona:  mind.StaticPersona(opts.Persona),
		Logger:   opts.Logger,
		Clock:    now,
	})
	defer e.Terminate(context.Background())

	sum := Summary{Paths: make(map[mind.Path]int)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var l Line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return sum, fmt.Errorf("replay: line %d: %w", n, err)
		}
		at, err := advance(now(), l)
		if err != nil {
			return sum, fmt.Errorf("replay: line %d: %w", n, err)
		}
		mu.Lock()
		clock = at
		mu.Unlock()

		ev := mind.Event{
			MessageID:   fmt.Sprintf("line-%d", n),
			GroupID:     orDefault(l.Group, "replay"),
			SenderID:    l.User,
			SenderName:  orDefault(l.Name, l.User),
			Text:        l.Text,
			RawText:     l.Text,
			Mentioned:   l.Mentioned,
			HasImage:    l.Image,
			Destination: orDefault(l.Channel, "replay"),
			Timestamp:   at,
		}
		res, err := e.Handle(ctx, ev)
		if err != nil && ctx.Err() != nil {
			return sum, ctx.Err()
		}
		d := Decision{
			Line:      n,
			At:        at,
			Group:     ev.GroupID,
			User:      ev.SenderName,
			Path:      res.Path,
			Score:     res.Update.Score,
			Threshold: res.Update.Threshold,
			Reason:    res.Update.Reason,
			Reply:     out.take(),
		}
		sum.Lines++
		sum.Paths[d.Path]++
		if d.Reply != "" {
			sum.Replies++
		}
		if emit != nil {
			emit(d)
		}
	}
	return sum, sc.Err()
}

func advance(prev time.Time, l Line) (time.Time, error) {
	if !l.At.IsZero() {
		return l.At, nil
	}
	if l.After == "" {
		return prev, nil
	}
	d, err := time.ParseDuration(l.After)
	if err != nil {
		return prev, fmt.Errorf("bad after %q: %w", l.After, err)
	}
	return prev.Add(d), nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Format renders a decision as one line of text.
func (d Decision) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%4d %s %-10s %-12s %-9s", d.Line, d.At.Format("15:04:05"), d.Group, d.User, d.Path)
	if d.Threshold > 0 {
		fmt.Fprintf(&sb, " score=%.3f threshold=%.3f", d.Score, d.Threshold)
	}
	if d.Reason != "" {
		fmt.Fprintf(&sb, " (%s)", d.Reason)
	}
	if d.Reply != "" {
		fmt.Fprintf(&sb, "\n     -> %s", d.Reply)
	}
	return sb.String()
}

// SortedPaths lists the summary's paths by name.
func (s Summary) SortedPaths() []mind.Path {
	out := make([]mind.Path, 0, len(s.Paths))
	for p := range s.Paths {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
