// Package cmd is a small transport-agnostic command core. A command has a
// name and a Run; adapters decide how commands are parsed and answered.
package cmd

import (
	"context"
	"strings"
)

// Invocation is one call of a command. Data carries the adapter's own
// context (for Discord, the session and the message).
type Invocation struct {
	Name string
	Args []string
	Data any
}

// Param is the arguments joined back into one string.
func (inv *Invocation) Param() string {
	if inv == nil {
		return ""
	}
	return strings.Join(inv.Args, " ")
}

type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}
