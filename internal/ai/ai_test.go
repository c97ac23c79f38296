package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"content": content}}},
	})
	return string(b)
}

func TestHTTPProviderComplete(t *testing.T) {
	var got struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Private  bool      `json:"private"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion(`"<think>hmm</think> hi there"`)))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPOptions{Endpoint: srv.URL, APIKey: "k", Model: "m", Extra: map[string]any{"private": true}})
	reply, err := p.Complete(context.Background(), Request{
		Prompt:       "say hi",
		Contexts:     []Message{{Role: "user", Content: "alice: hello"}},
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q", reply)
	}
	if auth != "Bearer k" || got.Model != "m" || !got.Private {
		t.Fatalf("auth = %q, payload = %+v", auth, got)
	}
	want := []string{"system", "user", "user"}
	if len(got.Messages) != len(want) {
		t.Fatalf("messages = %+v", got.Messages)
	}
	for i, role := range want {
		if got.Messages[i].Role != role {
			t.Fatalf("message %d role = %q", i, got.Messages[i].Role)
		}
	}
}

func TestHTTPProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		ctype    string
		body     string
		wantErr  error
		maxCalls int32
	}{
		{"client error is not retried", http.StatusBadRequest, "application/json", `{"error":"bad"}`, nil, 1},
		{"html page", http.StatusOK, "text/html", "<html></html>", ErrGarbage, 1},
		{"no choices", http.StatusOK, "application/json", `{"choices":[]}`, ErrEmptyCompletion, 1},
		{"blank content", http.StatusOK, "application/json", completion("   "), ErrEmptyCompletion, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", tt.ctype)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProvider(HTTPOptions{Endpoint: srv.URL, Model: "m"})
			_, err := p.Complete(context.Background(), Request{Prompt: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if n := calls.Load(); n > tt.maxCalls {
				t.Fatalf("calls = %d", n)
			}
		})
	}
}

func TestHTTPProviderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion("recovered")))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPOptions{Endpoint: srv.URL, Model: "m", Timeout: 10 * time.Second})
	reply, err := p.Complete(context.Background(), Request{Prompt: "x"})
	if err != nil || reply != "recovered" {
		t.Fatalf("reply = %q, err = %v", reply, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"sounds good!", "sounds good!", true},
		{"  " + NoResponse + "  ", "", false},
		{"<no_response>", "", false},
		{"", "", false},
		{`"quoted reply"`, "quoted reply", true},
		{"<think>should I?</think>" + NoResponse, "", false},
		{`{"error": "rate limited"}`, "", false},
		{"<html><body>502</body></html>", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseDecision(tt.raw)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("ParseDecision(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNew(t *testing.T) {
	if p, err := New(Options{}); err != nil || p != (Null{}) {
		t.Fatalf("default = %v, %v", p, err)
	}
	if _, err := New(Options{Engine: "openai"}); err == nil {
		t.Fatal("openai without base url accepted")
	}
	if _, err := New(Options{Engine: "carrier-pigeon"}); err == nil {
		t.Fatal("unknown engine accepted")
	}
	if _, err := (Null{}).Complete(context.Background(), Request{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("null err = %v", err)
	}
}

func TestRequestMessagesWithoutSystem(t *testing.T) {
	msgs := Request{Prompt: "hi"}.Messages()
	if len(msgs) != 1 || msgs[0].Role != "user" {
		t.Fatalf("messages = %+v", msgs)
	}
}
