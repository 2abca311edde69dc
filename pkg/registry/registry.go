// Package registry holds the read-only, ordered set of configured worker processes.
package registry

import (
	"strings"

	"github.com/core-tools/hsu-procsup/pkg/errors"
)

// EnableKey is the reserved launch parameter that marks a process for auto-start
const EnableKey = "enable"

// Entry is one configured process
type Entry struct {
	Name       string
	Enabled    bool
	LaunchArgs map[string]string // includes the reserved enable key as configured
}

// NewEntry builds an entry, deriving Enabled from the enable parameter
func NewEntry(name string, launchArgs map[string]string) Entry {
	args := make(map[string]string, len(launchArgs))
	for k, v := range launchArgs {
		args[k] = v
	}
	return Entry{
		Name:       name,
		Enabled:    IsEnabledValue(args[EnableKey]),
		LaunchArgs: args,
	}
}

// IsEnabledValue reports whether v is a case-insensitive "true"
func IsEnabledValue(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

type Registry struct {
	names   []string
	entries map[string]Entry
}

// New builds a registry preserving the order of entries. Names must be unique and non-empty.
func New(entries []Entry) (*Registry, error) {
	r := &Registry{
		names:   make([]string, 0, len(entries)),
		entries: make(map[string]Entry, len(entries)),
	}
	for i, entry := range entries {
		if strings.TrimSpace(entry.Name) == "" {
			return nil, errors.NewValidationError("process name cannot be empty", nil).WithContext("index", i)
		}
		if _, exists := r.entries[entry.Name]; exists {
			return nil, errors.NewConflictError("duplicate process name", nil).WithContext("process", entry.Name)
		}
		r.names = append(r.names, entry.Name)
		r.entries[entry.Name] = NewEntry(entry.Name, entry.LaunchArgs)
	}
	return r, nil
}

// Empty returns a registry with no processes
func Empty() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Names returns process names in configuration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Lookup returns a copy of the entry for name
func (r *Registry) Lookup(name string) (Entry, bool) {
	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return NewEntry(entry.Name, entry.LaunchArgs), true
}

func (r *Registry) Contains(name string) bool {
	_, ok := r.entries[name]
	return ok
}

func (r *Registry) Len() int {
	return len(r.names)
}

// EnabledNames returns the names marked for auto-start, in configuration order
func (r *Registry) EnabledNames() []string {
	var names []string
	for _, name := range r.names {
		if r.entries[name].Enabled {
			names = append(names, name)
		}
	}
	return names
}
