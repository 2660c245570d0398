package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/openbot/pkg/plugin"
	"github.com/rs/zerolog"
)

// Conflict records a simple name claimed by more than one plugin. It is a
// warning: every candidate stays reachable by its qualified name.
type Conflict struct {
	SimpleName string
	Candidates []string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s is ambiguous: %s", c.SimpleName, strings.Join(c.Candidates, ", "))
}

// CollisionError rejects a plugin whose qualified name is already taken.
type CollisionError struct {
	QualifiedName string
	Owner         string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("qualified name %s already registered by plugin %s", e.QualifiedName, e.Owner)
}

// BuildReport summarizes a table build.
type BuildReport struct {
	Registered int
	Conflicts  []Conflict
	Rejected   map[string]error
}

// Build aggregates the functions of the given plugins into a command table.
// Built-in plugins are registered first, then the others by ID. A plugin whose
// qualified names collide with an earlier plugin is rejected as a whole.
func Build(prefix string, plugins []*plugin.LoadedPlugin, logger zerolog.Logger) (*Table, BuildReport) {
	logger = logger.With().Str("component", "command-table").Logger()

	ordered := make([]*plugin.LoadedPlugin, 0, len(plugins))
	for _, lp := range plugins {
		if lp != nil && lp.State == plugin.StateEnabled {
			ordered = append(ordered, lp)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		bi, bj := ordered[i].Source == plugin.SourceBuiltin, ordered[j].Source == plugin.SourceBuiltin
		if bi != bj {
			return bi
		}
		return ordered[i].ID < ordered[j].ID
	})

	table := newTable(prefix)
	report := BuildReport{Rejected: make(map[string]error)}

	for _, lp := range ordered {
		cmds := commandsFor(prefix, lp)

		if err := table.checkCollisions(cmds); err != nil {
			report.Rejected[lp.ID] = err
			logger.Error().Err(err).Str("plugin", lp.ID).Msg("Rejected plugin with colliding command names")
			continue
		}

		for _, cmd := range cmds {
			table.insert(cmd, logger)
			report.Registered++
		}
	}

	for _, name := range table.SimpleNames() {
		if s := table.simple[name]; s.link == nil {
			report.Conflicts = append(report.Conflicts, Conflict{
				SimpleName: name,
				Candidates: append([]string(nil), s.candidates...),
			})
		}
	}

	logger.Info().
		Int("commands", report.Registered).
		Int("conflicts", len(report.Conflicts)).
		Int("rejected", len(report.Rejected)).
		Msg("Command table built")

	return table, report
}

func commandsFor(prefix string, lp *plugin.LoadedPlugin) []*Command {
	ids := make([]string, 0, len(lp.Functions))
	for id := range lp.Functions {
		if _, declared := lp.Manifest.Functions[id]; declared {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	cmds := make([]*Command, 0, len(ids))
	for _, id := range ids {
		fn := lp.Manifest.Functions[id]
		cmds = append(cmds, &Command{
			SimpleName:    prefix + fn.FunctionName,
			QualifiedName: prefix + lp.Manifest.Prefix() + "." + fn.FunctionName,
			PluginID:      lp.ID,
			FunctionID:    id,
			Builtin:       lp.Source == plugin.SourceBuiltin,
			Manifest:      fn,
			Plugin:        lp.Manifest,
			Handler:       lp.Functions[id],
		})
	}
	return cmds
}

func (t *Table) checkCollisions(cmds []*Command) error {
	for _, cmd := range cmds {
		if existing, taken := t.qualified[cmd.QualifiedName]; taken {
			return &CollisionError{QualifiedName: cmd.QualifiedName, Owner: existing.PluginID}
		}
	}
	return nil
}

func (t *Table) insert(cmd *Command, logger zerolog.Logger) {
	t.qualified[cmd.QualifiedName] = cmd

	s, used := t.simple[cmd.SimpleName]
	switch {
	case !used:
		t.simple[cmd.SimpleName] = &slot{link: cmd}
		return
	case s.link != nil:
		s.candidates = []string{s.link.QualifiedName, cmd.QualifiedName}
		s.link = nil
	default:
		s.candidates = append(s.candidates, cmd.QualifiedName)
	}

	logger.Warn().
		Str("name", cmd.SimpleName).
		Strs("candidates", s.candidates).
		Msg("Command name conflict, use the qualified name")
}
