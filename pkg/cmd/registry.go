package cmd

import (
	"sort"
	"strings"
	"sync"
)

// Registry stores commands by lowercase name. It does not dispatch; adapters
// look commands up and run them with their own Invocation data.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds c wrapped in mws, the first middleware outermost.
func (r *Registry) Register(c Command, mws ...Middleware) {
	wrapped := Apply(c, mws...)
	r.mu.Lock()
	r.commands[strings.ToLower(c.Name())] = wrapped
	r.mu.Unlock()
}

// Get returns the command with the given name, or nil.
func (r *Registry) Get(name string) Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[strings.ToLower(name)]
}

// GetAll returns all registered commands, sorted by name.
func (r *Registry) GetAll() []Command {
	r.mu.RLock()
	list := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		list = append(list, c)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}
