// Package command turns loaded plugins into a lookup table of commands and
// dispatches chat messages against it.
package command

import (
	"sort"
	"strings"

	"github.com/harun/openbot/pkg/plugin"
)

// Command is a registered function, reachable by its qualified name and, while
// unambiguous, by its simple name.
type Command struct {
	SimpleName    string
	QualifiedName string
	PluginID      string
	FunctionID    string
	Builtin       bool

	Manifest plugin.FunctionManifest
	Plugin   *plugin.Manifest
	Handler  plugin.Function
}

// Kind tags the outcome of a name lookup.
type Kind int

const (
	NotFound Kind = iota
	Resolved
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Resolution is the result of Table.Resolve. Command is set for Resolved,
// Candidates (qualified names) for Ambiguous.
type Resolution struct {
	Kind       Kind
	Command    *Command
	Candidates []string
}

// slot is a simple-name entry: a direct link or an ambiguity list.
type slot struct {
	link       *Command
	candidates []string
}

// Table is an immutable command table. It is built once per load generation
// and then only read, so it is safe for concurrent use.
type Table struct {
	prefix    string
	qualified map[string]*Command
	simple    map[string]*slot
}

func newTable(prefix string) *Table {
	return &Table{
		prefix:    prefix,
		qualified: make(map[string]*Command),
		simple:    make(map[string]*slot),
	}
}

// Empty returns a table with no commands.
func Empty(prefix string) *Table {
	return newTable(prefix)
}

// Prefix returns the command prefix the table was built with.
func (t *Table) Prefix() string {
	return t.prefix
}

// Resolve looks up a simple or qualified name, prefix included.
func (t *Table) Resolve(name string) Resolution {
	if cmd, ok := t.qualified[name]; ok {
		return Resolution{Kind: Resolved, Command: cmd}
	}
	if s, ok := t.simple[name]; ok {
		if s.link != nil {
			return Resolution{Kind: Resolved, Command: s.link}
		}
		return Resolution{Kind: Ambiguous, Candidates: append([]string(nil), s.candidates...)}
	}
	return Resolution{Kind: NotFound}
}

// Lookup returns the command with the given qualified name.
func (t *Table) Lookup(qualified string) (*Command, bool) {
	cmd, ok := t.qualified[qualified]
	return cmd, ok
}

// Commands returns every command ordered by qualified name.
func (t *Table) Commands() []*Command {
	out := make([]*Command, 0, len(t.qualified))
	for _, cmd := range t.qualified {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

// ByPlugin returns the commands of one plugin ordered by qualified name.
func (t *Table) ByPlugin(pluginID string) []*Command {
	var out []*Command
	for _, cmd := range t.Commands() {
		if cmd.PluginID == pluginID {
			out = append(out, cmd)
		}
	}
	return out
}

// SimpleNames returns every simple name, ambiguous ones included, ordered.
func (t *Table) SimpleNames() []string {
	names := make([]string, 0, len(t.simple))
	for name := range t.simple {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of commands.
func (t *Table) Len() int {
	return len(t.qualified)
}

// CallName is the shortest name that resolves to cmd: its simple name when
// that is unambiguous, otherwise its qualified name.
func (t *Table) CallName(cmd *Command) string {
	if s, ok := t.simple[cmd.SimpleName]; ok && s.link == cmd {
		return cmd.SimpleName
	}
	return cmd.QualifiedName
}

// trimPrefix strips the table prefix from a command name.
func (t *Table) trimPrefix(name string) string {
	return strings.TrimPrefix(name, t.prefix)
}
