// Package builtins is the single-file "core" plugin compiled into the
// binary. Its commands administer the bot from the chat.
package builtins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harun/openbot/internal/audit"
	"github.com/harun/openbot/internal/config"
	"github.com/harun/openbot/internal/core"
	"github.com/harun/openbot/pkg/command"
	"github.com/harun/openbot/pkg/perms"
	"github.com/harun/openbot/pkg/plugin"
)

// DefaultSleep is used by sleep without an argument.
const DefaultSleep = 5 * time.Minute

// MaxSleep bounds the sleep argument.
const MaxSleep = 366 * 24 * time.Hour

const defaultHistory = 10

// Runtime is the part of the core the built-in commands drive.
type Runtime interface {
	Reload(ctx context.Context, trigger string) (*core.State, error)
	RequestShutdown()
	Sleep(d time.Duration)
	Bind(channelID string, appendChannel bool) (bool, error)
	State() *core.State
	Permissions() *perms.Resolver
	History() *audit.History
	Audit() *audit.Logger
}

// Register adds the core plugin to catalog.
func Register(catalog *plugin.Catalog, rt Runtime) error {
	return catalog.RegisterBuiltin(core.PluginID, func() plugin.Plugin { return New(rt) })
}

// Plugin implements the core commands.
type Plugin struct {
	plugin.Base
	rt Runtime
}

// New returns the core plugin bound to rt.
func New(rt Runtime) *Plugin {
	return &Plugin{rt: rt}
}

// Manifest describes the core commands.
func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Description: plugin.Description{
			PluginName:        "core",
			DomainName:        "openbot",
			PluginPrefix:      core.PluginID,
			PluginDescription: "Bot administration",
			PluginType:        plugin.TypeSingleFile,
		},
		Versioning: plugin.Versioning{PluginVersion: config.Version},
		Functions: map[string]plugin.FunctionManifest{
			"bind": {
				HelpText:          "Restrict commands to this channel.",
				AllowedArgsLength: "<1",
				AllowedModifiers:  map[string]string{"--append": "keep the channels already bound"},
				Permission:        "core.bind",
			},
			"reload": {
				HelpText:          "Reload the configuration and every plugin.",
				AllowedArgsLength: "<1",
				Permission:        "core.reload",
			},
			"shutdown": {
				HelpText:          "Stop the bot.",
				AllowedArgsLength: "<1",
				Permission:        "core.shutdown",
			},
			"sleep": {
				HelpText:          "Ignore plugin commands for a while. 0 wakes the bot.",
				AllowedArgsLength: "<2",
				ArgsDescription:   []string{"seconds"},
				Permission:        "core.sleep",
			},
			"help": {
				HelpText:          "List the commands or show the help of one.",
				AllowedArgsLength: "<2",
				ArgsDescription:   []string{"command"},
			},
			"plugins": {
				HelpText:          "List the loaded plugins.",
				AllowedArgsLength: "<1",
			},
			"perm": {
				HelpText:          "Inspect and edit permission groups.",
				AllowedArgsLength: ">2",
				ArgsDescription:   []string{"check|grant|revoke|join|leave", "user|group", "key|user"},
				Permission:        "core.perm",
			},
			"history": {
				HelpText:          "Show the most recent commands.",
				AllowedArgsLength: "<2",
				ArgsDescription:   []string{"count"},
				Permission:        "core.history",
			},
		},
	}
}

// Load returns the command implementations.
func (p *Plugin) Load(_ context.Context, _ plugin.Host) (plugin.Functions, error) {
	return plugin.Functions{
		"bind":     plugin.FunctionFunc(p.bind),
		"reload":   plugin.FunctionFunc(p.reload),
		"shutdown": plugin.FunctionFunc(p.shutdown),
		"sleep":    plugin.FunctionFunc(p.sleep),
		"help":     plugin.FunctionFunc(p.help),
		"plugins":  plugin.FunctionFunc(p.plugins),
		"perm":     plugin.FunctionFunc(p.perm),
		"history":  plugin.FunctionFunc(p.history),
	}, nil
}

func (p *Plugin) bind(_ context.Context, inv *plugin.Invocation) (plugin.Reply, error) {
	appendChannel := inv.Modifiers.Present("--append")
	changed, err := p.rt.Bind(inv.ChannelID, appendChannel)
	if err != nil {
		return plugin.Reply{}, err
	}
	switch {
	case !changed:
		return plugin.Info(inv.Text("core.bind.already")), nil
	case appendChannel:
		return plugin.Info(inv.Text("core.bind.appended")), nil
	default:
		return plugin.Info(inv.Text("core.bind.done")), nil
	}
}

func (p *Plugin) reload(ctx context.Context, inv *plugin.Invocation) (plugin.Reply, error) {
	st, err := p.rt.Reload(ctx, core.TriggerCommand)
	if err != nil {
		return plugin.Reply{Severity: plugin.SeverityValidation, Text: inv.Text("core.reload.failed", err.Error())}, nil
	}
	return plugin.Info(inv.Text("core.reload.done", len(st.Load.Enabled())-len(st.Report.Rejected), st.Report.Registered)), nil
}

func (p *Plugin) shutdown(_ context.Context, inv *plugin.Invocation) (plugin.Reply, error) {
	p.rt.RequestShutdown()
	return plugin.Info(inv.Text("core.shutdown")), nil
}

func (p *Plugin) sleep(_ context.Context, inv *plugin.Invocation) (plugin.Reply, error) {
	d := DefaultSleep
	if len(inv.Args) == 1 {
		secs, err := strconv.Atoi(inv.Args[0])
		if err != nil || secs < 0 || secs > int(MaxSleep/time.Second) {
			return plugin.Reply{Severity: plugin.SeverityValidation, Text: inv.Text("core.sleep.invalid", inv.Args[0])}, nil
		}
		d = time.Duration(secs) * time.Second
	}

	p.rt.Sleep(d)
	if d == 0 {
		return plugin.Info(inv.Text("core.sleep.awake")), nil
	}
	return plugin.Info(inv.Text("core.sleep.done", d.String())), nil
}

func (p *Plugin) help(_ context.Context, inv *plugin.Invocation) (plugin.Reply, error) {
	st := p.rt.State()
	if st == nil {
		return plugin.Reply{}, errors.New("no command table")
	}
	table := st.Table

	if len(inv.Args) == 0 {
		lines := []string{inv.Text("core.help.header")}
		for _, cmd := range table.Commands() {
			lines = append(lines, command.Summary(cmd))
		}
		return plugin.Info(strings.Join(lines, "\n")), nil
	}

	name := inv.Args[0]
	if !strings.HasPrefix(name, table.Prefix()) {
		name = table.Prefix() + name
	}
	res := table.Resolve(name)
	switch res.Kind {
	case command.Resolved:
		return plugin.Info(command.HelpText(res.Command)), nil
	case command.Ambiguous:
		texts := make([]string, 0, len(res.Candidates))
		for _, qualified := range res.Candidates {
			if cmd, ok := table.Lookup(qualified); ok {
				texts = append(texts, command.HelpText(cmd))
			}
		}
		return plugin.Info(strings.Join(texts, "\n\n")), nil
	default:
		return plugin.Reply{Severity: plugin.SeverityValidation, Text: inv.Text("core.help.unknown", inv.Args[0])}, nil
	}
}

func (p *Plugin) plugins(_ context.Context, inv *plugin.Invocation) (plugin.Reply, error) {
	st := p.rt.State()
	if st == nil || st.Load == nil {
		return plugin.Reply{}, errors.New("no plugins loaded")
	}

	type line struct{ id, version, state string }
	var lines []line
	for id, lp := range st.Load.Plugins {
		state := string(lp.State)
		if reason, ok := st.Report.Rejected[id]; ok {
			state = fmt.Sprintf("%s: %s", plugin.StateFailed, reason)
		}
		lines = append(lines, line{id, lp.Manifest.Version(), state})
	}
	for id, err := range st.Load.Failed {
		lines = append(lines, line{id, "-", fmt.Sprintf("%s: %v", plugin.StateFailed, err)})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].id < lines[j].id })

	out := []string{inv.Text("core.plugins.header")}
	for _, l := range lines {
		out = append(out, inv.Text("core.plugins.line", l.id, l.version, l.state))
	}
	return plugin.Info(strings.Join(out, "\n")), nil
}

func (p *Plugin) perm(ctx context.Context, inv *plugin.Invocation) (plugin.Reply, error) {
	usage := plugin.Reply{Severity: plugin.SeverityValidation, Text: inv.Text("core.perm.usage")}
	if len(inv.Args) != 3 {
		return usage, nil
	}
	resolver := p.rt.Permissions()
	action, a, b := inv.Args[0], inv.Args[1], inv.Args[2]

	var (
		err  error
		text string
	)
	switch action {
	case "check":
		if resolver.HasPermission(a, b) {
			return plugin.Info(inv.Text("core.perm.allowed", a, b)), nil
		}
		return plugin.Info(inv.Text("core.perm.denied", a, b)), nil
	case "grant":
		err, text = resolver.Grant(a, b), inv.Text("core.perm.granted", b, a)
	case "revoke":
		err, text = resolver.Revoke(a, b), inv.Text("core.perm.revoked", b, a)
	case "join":
		err, text = resolver.AddMember(a, b), inv.Text("core.perm.joined", b, a)
	case "leave":
		err, text = resolver.RemoveMember(a, b), inv.Text("core.perm.left", b, a)
	default:
		return usage, nil
	}

	if errors.Is(err, perms.ErrUnknownGroup) {
		return plugin.Reply{Severity: plugin.SeverityValidation, Text: inv.Text("core.perm.unknown_group", a)}, nil
	}
	if err != nil {
		return plugin.Reply{}, err
	}

	if al := p.rt.Audit(); al != nil {
		al.RecordSecurity(ctx, "perm."+action, inv.UserID, "success", map[string]any{
			"group":  a,
			"target": b,
		})
	}
	inv.Logger.Info().Str("action", action).Str("group", a).Str("target", b).Msg("Permissions changed")
	return plugin.Info(text), nil
}

func (p *Plugin) history(ctx context.Context, inv *plugin.Invocation) (plugin.Reply, error) {
	h := p.rt.History()
	if h == nil {
		return plugin.Info(inv.Text("core.history.disabled")), nil
	}

	n := defaultHistory
	if len(inv.Args) == 1 {
		v, err := strconv.Atoi(inv.Args[0])
		if err != nil || v <= 0 {
			return plugin.Reply{Severity: plugin.SeverityValidation, Text: inv.Text("core.history.invalid", inv.Args[0])}, nil
		}
		n = v
	}

	records, err := h.Recent(ctx, n)
	if err != nil {
		return plugin.Reply{}, err
	}
	if len(records) == 0 {
		return plugin.Info(inv.Text("core.history.empty")), nil
	}

	lines := make([]string, 0, len(records))
	for _, r := range records {
		name := r.Command
		if name == "" {
			name = r.Name
		}
		lines = append(lines, inv.Text("core.history.line", r.At.Format(time.DateTime), name, r.Outcome, r.UserID))
	}
	return plugin.Info(strings.Join(lines, "\n")), nil
}
