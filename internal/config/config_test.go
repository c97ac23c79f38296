package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/mind"
)

func TestParseDefaultsMatchEngineDefaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, want := cfg.Mind(), mind.DefaultConfig(); !reflect.DeepEqual(got, want) {
		t.Fatalf("mind config\n got %+v\nwant %+v", got, want)
	}
	if cfg.StoragePath != "datastore.json" || cfg.CommandPrefix != "!" || cfg.SaveInterval != time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
	if err := cfg.RequireDiscord(); err == nil {
		t.Fatal("missing token accepted")
	}
	if cfg.AI().Engine != "none" {
		t.Fatalf("engine = %q", cfg.AI().Engine)
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"DISCORD_TOKEN":              "tok",
		"HEARTBEAT_INTERVAL":         "45s",
		"COOLDOWN_SECONDS":           "20",
		"WILLINGNESS_THRESHOLD":      "0.6",
		"AIR_READING_ENABLED":        "false",
		"OBSERVATION_MODE_THRESHOLD": "3",
		"ALLOWED_GROUPS":             "a, b,,",
		"BOT_KEYWORDS":               "mika,",
		"LLM_ENGINE":                 " OpenAI ",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := cfg.Mind()
	if m.HeartbeatInterval != 45*time.Second || m.Cooldown != 20*time.Second || m.WillingnessThreshold != 0.6 {
		t.Fatalf("mind = %+v", m)
	}
	if m.AirReadingEnabled {
		t.Fatal("air reading still on")
	}
	if m.ObservationThreshold != 0.2 {
		t.Fatalf("out of range threshold kept: %v", m.ObservationThreshold)
	}
	if !reflect.DeepEqual(cfg.AllowedGroups, []string{"a", "b"}) || !reflect.DeepEqual(m.BotKeywords, []string{"mika"}) {
		t.Fatalf("lists = %v %v", cfg.AllowedGroups, m.BotKeywords)
	}
	if cfg.RequireDiscord() != nil || cfg.AI().Engine != "openai" {
		t.Fatalf("token/engine = %q %q", cfg.DiscordToken, cfg.AI().Engine)
	}
}

func TestParseRejectsMalformedValues(t *testing.T) {
	if _, err := Parse(map[string]string{"AT_BOOST_VALUE": "lots"}); err == nil {
		t.Fatal("malformed float accepted")
	}
	if _, err := Parse(map[string]string{"HEARTBEAT_INTERVAL": "soon"}); err == nil {
		t.Fatal("malformed duration accepted")
	}
}

func TestGroupPolicy(t *testing.T) {
	tests := []struct {
		name  string
		allow []string
		deny  []string
		group string
		want  bool
	}{
		{"open", nil, nil, "g", true},
		{"denied", nil, []string{"g"}, "g", false},
		{"allow list hit", []string{"g"}, nil, "g", true},
		{"allow list miss", []string{"h"}, nil, "g", false},
		{"deny beats allow", []string{"g"}, []string{"g"}, "g", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewGroupPolicy(tt.allow, tt.deny).Allowed(tt.group); got != tt.want {
				t.Fatalf("Allowed = %v, want %v", got, tt.want)
			}
		})
	}
}

func writePersona(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
}

func TestReadPersona(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	writePersona(t, path, `
name: Mika
aliases: [mika, Miki]
description: Likes tea.
keywords: [tea-bot]
`)
	p, err := ReadPersona(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.SystemPrompt != "You are Mika, a member of this group chat. Likes tea." {
		t.Fatalf("system prompt = %q", p.SystemPrompt)
	}
	if !reflect.DeepEqual(p.Keywords, []string{"Mika", "Miki", "tea-bot"}) {
		t.Fatalf("keywords = %v", p.Keywords)
	}

	writePersona(t, path, "aliases: [x]\n")
	if _, err := ReadPersona(path); err == nil {
		t.Fatal("nameless persona accepted")
	}
}

func TestOpenPersonaFallback(t *testing.T) {
	pf, err := OpenPersona("", mind.Persona{Name: "Default"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if pf.Persona().Name != "Default" || pf.Reload() != nil {
		t.Fatalf("persona = %+v", pf.Persona())
	}
	if _, err := OpenPersona(filepath.Join(t.TempDir(), "missing.yaml"), mind.Persona{}, zerolog.Nop()); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestPersonaWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	writePersona(t, path, "name: Mika\n")
	pf, err := OpenPersona(path, mind.Persona{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pf.Watch(ctx) }()

	// The watcher may not be registered yet; keep rewriting until it notices.
	deadline := time.Now().Add(3 * time.Second)
	for pf.Persona().Name != "Nora" {
		if time.Now().After(deadline) {
			t.Fatal("persona not reloaded")
		}
		writePersona(t, path, "name: Nora\n")
		time.Sleep(20 * time.Millisecond)
	}

	writePersona(t, path, "name: [broken")
	time.Sleep(50 * time.Millisecond)
	if pf.Persona().Name != "Nora" {
		t.Fatalf("broken edit replaced persona: %+v", pf.Persona())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}
