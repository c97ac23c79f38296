package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/keshon/heartflow/internal/mind"
)

// PersonaSpec is the YAML layout of the persona file.
type PersonaSpec struct {
	Name         string   `yaml:"name"`
	Aliases      []string `yaml:"aliases"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"system_prompt"`
	Keywords     []string `yaml:"keywords"`
}

// Persona converts the file layout into what the engine uses. Name and
// aliases count as keywords; an empty system prompt is built from the
// description.
func (p PersonaSpec) Persona() mind.Persona {
	out := mind.Persona{
		Name:         strings.TrimSpace(p.Name),
		SystemPrompt: strings.TrimSpace(p.SystemPrompt),
	}
	if out.SystemPrompt == "" && out.Name != "" {
		out.SystemPrompt = fmt.Sprintf("You are %s, a member of this group chat.", out.Name)
		if d := strings.TrimSpace(p.Description); d != "" {
			out.SystemPrompt += " " + d
		}
	}
	seen := map[string]bool{}
	for _, list := range [][]string{{p.Name}, p.Aliases, p.Keywords} {
		for _, k := range list {
			k = strings.TrimSpace(k)
			if k == "" || seen[strings.ToLower(k)] {
				continue
			}
			seen[strings.ToLower(k)] = true
			out.Keywords = append(out.Keywords, k)
		}
	}
	return out
}

// ReadPersona parses a persona file.
func ReadPersona(path string) (mind.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mind.Persona{}, fmt.Errorf("config: read persona: %w", err)
	}
	var spec PersonaSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return mind.Persona{}, fmt.Errorf("config: parse persona %s: %w", path, err)
	}
	if strings.TrimSpace(spec.Name) == "" {
		return mind.Persona{}, fmt.Errorf("config: persona %s has no name", path)
	}
	return spec.Persona(), nil
}

// PersonaFile is a mind.PersonaSource backed by a YAML file. Watch keeps it
// in sync with the file; a broken edit keeps the last good persona.
type PersonaFile struct {
	path string
	log  zerolog.Logger

	mu  sync.RWMutex
	cur mind.Persona
}

// OpenPersona reads path once. An empty path yields a fixed fallback persona.
func OpenPersona(path string, fallback mind.Persona, log zerolog.Logger) (*PersonaFile, error) {
	pf := &PersonaFile{path: path, log: log, cur: fallback}
	if path == "" {
		return pf, nil
	}
	p, err := ReadPersona(path)
	if err != nil {
		return nil, err
	}
	pf.cur = p
	return pf, nil
}

func (pf *PersonaFile) Persona() mind.Persona {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return pf.cur
}

// Reload rereads the file.
func (pf *PersonaFile) Reload() error {
	if pf.path == "" {
		return nil
	}
	p, err := ReadPersona(pf.path)
	if err != nil {
		return err
	}
	pf.mu.Lock()
	pf.cur = p
	pf.mu.Unlock()
	pf.log.Info().Str("action", "persona_reload").Str("name", p.Name).Int("keywords", len(p.Keywords)).Msg("persona reloaded")
	return nil
}

// Watch reloads the persona whenever its file is written or replaced. It
// blocks until ctx is done. The directory is watched because editors
// usually save by renaming a temp file over the original.
func (pf *PersonaFile) Watch(ctx context.Context) error {
	if pf.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: persona watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(pf.path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := pf.Reload(); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				pf.log.Warn().Err(err).Str("action", "persona_reload").Msg("keeping previous persona")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			pf.log.Warn().Err(err).Str("action", "persona_watch").Msg("watcher error")
		}
	}
}
