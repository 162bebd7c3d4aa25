package command

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps command names and aliases to their commands. It is
// populated once at process start and read-only afterward, so lookups
// take no lock.
type Registry struct {
	byName map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

// Register adds a command. Names and aliases are case-insensitive and
// must be unique across the whole registry.
func (r *Registry) Register(cmd *Command) error {
	if cmd.Name == "" {
		return fmt.Errorf("command name is required")
	}
	if cmd.Execute == nil {
		return fmt.Errorf("command %q has no handler", cmd.Name)
	}

	keys := append([]string{cmd.Name}, cmd.Aliases...)
	for _, k := range keys {
		k = strings.ToLower(k)
		if existing, ok := r.byName[k]; ok {
			return fmt.Errorf("command name %q already registered by %q", k, existing.Name)
		}
	}
	for _, k := range keys {
		r.byName[strings.ToLower(k)] = cmd
	}
	return nil
}

// Get resolves a name or alias to its command.
func (r *Registry) Get(name string) (*Command, bool) {
	cmd, ok := r.byName[strings.ToLower(name)]
	return cmd, ok
}

// All returns every registered command exactly once, sorted by name.
func (r *Registry) All() []*Command {
	var cmds []*Command
	for key, cmd := range r.byName {
		if key == strings.ToLower(cmd.Name) {
			cmds = append(cmds, cmd)
		}
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Names returns the canonical names of all registered commands.
func (r *Registry) Names() []string {
	cmds := r.All()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name
	}
	return names
}

// Descriptors returns the handler-free listing of all commands.
func (r *Registry) Descriptors() []Descriptor {
	cmds := r.All()
	descs := make([]Descriptor, len(cmds))
	for i, c := range cmds {
		descs[i] = c.Descriptor()
	}
	return descs
}

// ByCategory returns all commands in the given category.
func (r *Registry) ByCategory(cat Category) []*Command {
	var out []*Command
	for _, c := range r.All() {
		if c.Category == cat {
			out = append(out, c)
		}
	}
	return out
}
