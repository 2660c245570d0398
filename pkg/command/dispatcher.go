package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/harun/openbot/internal/tracing"
	"github.com/harun/openbot/pkg/configtree"
	"github.com/harun/openbot/pkg/grammar"
	"github.com/harun/openbot/pkg/plugin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Message is one inbound chat message.
type Message struct {
	Text      string
	UserID    string
	ChannelID string
	MessageID string
}

// Outcome classifies a dispatch.
type Outcome int

const (
	Ignored Outcome = iota
	Invoked
	AmbiguousName
	NameNotFound
	InvalidArguments
	PermissionDenied
	InternalFailure
)

func (o Outcome) String() string {
	switch o {
	case Invoked:
		return "invoked"
	case AmbiguousName:
		return "ambiguous"
	case NameNotFound:
		return "not_found"
	case InvalidArguments:
		return "argument_error"
	case PermissionDenied:
		return "permission_denied"
	case InternalFailure:
		return "internal_error"
	default:
		return "ignored"
	}
}

// Result describes what Dispatch did with a message.
type Result struct {
	Outcome      Outcome
	Name         string // token 0 as typed
	Command      *Command
	Candidates   []string // AmbiguousName
	Suggestions  []string // NameNotFound
	Args         []string
	Modifiers    grammar.Modifiers
	Reply        plugin.Reply
	Err          error
	InvocationID string
	Duration     time.Duration
}

// Filter decides whether a message may be dispatched. cmd is nil when the
// name did not resolve to a single command. Returning false ignores the message.
type Filter func(msg Message, cmd *Command) bool

// Middleware wraps a command implementation; the first middleware is outermost.
type Middleware func(cmd *Command, next plugin.Function) plugin.Function

// Observer is notified after every dispatch that was not ignored.
type Observer interface {
	Observe(ctx context.Context, msg Message, res Result)
}

// ObserverFunc adapts a func to Observer.
type ObserverFunc func(ctx context.Context, msg Message, res Result)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, msg Message, res Result) { f(ctx, msg, res) }

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPermissions sets the checker for declared function permissions.
func WithPermissions(p plugin.PermissionChecker) Option {
	return func(d *Dispatcher) { d.perms = p }
}

// WithLocalizer sets the localizer for caller-visible replies.
func WithLocalizer(l plugin.Localizer) Option {
	return func(d *Dispatcher) { d.localizer = l }
}

// WithSink sets where replies are sent. Without a sink replies are only
// returned in the Result.
func WithSink(s plugin.MessageSink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

// WithConfig sets the source of the configuration snapshot passed to commands.
func WithConfig(snapshot func() configtree.Tree) Option {
	return func(d *Dispatcher) { d.config = snapshot }
}

// WithFilter adds a dispatch filter.
func WithFilter(f Filter) Option {
	return func(d *Dispatcher) { d.filters = append(d.filters, f) }
}

// WithMiddleware adds implementation middleware.
func WithMiddleware(mw ...Middleware) Option {
	return func(d *Dispatcher) { d.middleware = append(d.middleware, mw...) }
}

// WithObserver adds a dispatch observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// WithErrorRecorder sets the callback told about implementation failures.
func WithErrorRecorder(record func(pluginID string, err error)) Option {
	return func(d *Dispatcher) { d.recordError = record }
}

// WithSuggestionLimit sets how many close matches a not-found reply lists.
func WithSuggestionLimit(n int) Option {
	return func(d *Dispatcher) { d.suggestions = n }
}

// Dispatcher routes messages to commands. It holds no per-message state and
// is safe for concurrent use; each dispatch uses the table current at its start.
type Dispatcher struct {
	logger      zerolog.Logger
	table       func() *Table
	perms       plugin.PermissionChecker
	localizer   plugin.Localizer
	sink        plugin.MessageSink
	config      func() configtree.Tree
	filters     []Filter
	middleware  []Middleware
	observers   []Observer
	recordError func(pluginID string, err error)
	suggestions int
}

// NewDispatcher creates a dispatcher reading its command table from table.
func NewDispatcher(logger zerolog.Logger, table func() *Table, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:      logger.With().Str("component", "dispatcher").Logger(),
		table:       table,
		config:      func() configtree.Tree { return nil },
		suggestions: 3,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch parses and runs msg. It never panics and never returns an error:
// every failure is reported through the Result and, for caller-visible
// failures, a reply to the sink.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (res Result) {
	table := d.table()
	if table == nil {
		return Result{Outcome: Ignored}
	}

	tokens := strings.Fields(msg.Text)
	if len(tokens) == 0 || table.Prefix() == "" || !strings.HasPrefix(tokens[0], table.Prefix()) || tokens[0] == table.Prefix() {
		return Result{Outcome: Ignored}
	}
	name := tokens[0]
	res = Result{Name: name}

	resolution := table.Resolve(name)
	if !d.allowed(msg, resolution.Command) {
		return Result{Outcome: Ignored, Name: name}
	}

	ctx = tracing.NewMessageContext(ctx, msg.UserID, msg.ChannelID)
	ctx, span := tracing.StartDispatchSpan(ctx, name, msg.ChannelID)
	start := time.Now()

	defer func() {
		res.Duration = time.Since(start)
		tracing.EndDispatchSpan(span, res.Outcome.String(), res.Err)
		for _, o := range d.observers {
			d.observe(ctx, o, msg, res)
		}
	}()

	switch resolution.Kind {
	case Ambiguous:
		res.Outcome = AmbiguousName
		res.Candidates = resolution.Candidates
		res.Reply = plugin.Reply{
			Severity: plugin.SeverityValidation,
			Text:     d.text("dispatch.ambiguous", "%s is ambiguous, use one of: %s", name, strings.Join(res.Candidates, ", ")),
		}
		d.send(ctx, msg, res.Reply)
		return res

	case NotFound:
		res.Outcome = NameNotFound
		res.Suggestions = table.Suggest(name, d.suggestions)
		if len(res.Suggestions) > 0 {
			res.Reply = plugin.Reply{
				Severity: plugin.SeverityValidation,
				Text:     d.text("dispatch.not_found_suggest", "Unknown command %s. Did you mean: %s?", name, strings.Join(res.Suggestions, ", ")),
			}
		} else {
			res.Reply = plugin.Reply{
				Severity: plugin.SeverityValidation,
				Text:     d.text("dispatch.not_found", "Unknown command %s.", name),
			}
		}
		d.send(ctx, msg, res.Reply)
		return res
	}

	cmd := resolution.Command
	res.Command = cmd
	span.SetAttributes(
		attribute.String("command.qualified", cmd.QualifiedName),
		attribute.String("plugin.id", cmd.PluginID),
	)

	parsed := grammar.ParseTokens(tokens[1:], cmd.Manifest.Modifiers)
	res.Args = parsed.Args
	res.Modifiers = parsed.Modifiers

	if !cmd.Manifest.Args.Allows(len(parsed.Args)) {
		help := HelpText(cmd)
		res.Outcome = InvalidArguments
		res.Err = &ArgumentError{Command: cmd.QualifiedName, Count: len(parsed.Args), Help: help}
		res.Reply = plugin.Reply{
			Severity: plugin.SeverityValidation,
			Text:     d.text("dispatch.argument_error", "Invalid arguments.\n%s", help),
		}
		d.send(ctx, msg, res.Reply)
		return res
	}

	if perm := cmd.Manifest.Permission; perm != "" && !d.hasPermission(msg.UserID, perm) {
		d.deny(ctx, msg, &res, plugin.ErrPermissionDenied)
		return res
	}

	res.InvocationID = tracing.NewInvocationID()
	ctx = tracing.WithInvocationID(ctx, res.InvocationID)
	ctx = tracing.WithPluginID(ctx, cmd.PluginID)

	inv := &plugin.Invocation{
		ID:          res.InvocationID,
		Command:     cmd.QualifiedName,
		PluginID:    cmd.PluginID,
		Args:        parsed.Args,
		Modifiers:   parsed.Modifiers,
		UserID:      msg.UserID,
		ChannelID:   msg.ChannelID,
		MessageID:   msg.MessageID,
		Config:      d.config(),
		Permissions: d.perms,
		Localizer:   d.localizer,
		Logger:      tracing.PropagateToLogger(ctx, d.logger),
	}

	reply, err := d.invoke(ctx, cmd, inv)
	switch {
	case err == nil:
		res.Outcome = Invoked
		res.Reply = reply
		d.send(ctx, msg, reply)

	case errors.Is(err, plugin.ErrPermissionDenied):
		d.deny(ctx, msg, &res, err)

	default:
		res.Outcome = InternalFailure
		res.Err = err
		var internal *InternalError
		stack := ""
		if errors.As(err, &internal) {
			stack = string(internal.Stack)
		}
		inv.Logger.Error().
			Err(err).
			Str("command", cmd.QualifiedName).
			Str("stack", stack).
			Msg("Command failed")
		if d.recordError != nil {
			d.recordError(cmd.PluginID, err)
		}
		res.Reply = plugin.Reply{
			Severity: plugin.SeverityInfo,
			Text:     d.text("dispatch.internal_error", "Something went wrong running %s.", name),
		}
		d.send(ctx, msg, res.Reply)
	}

	return res
}

// invoke runs the implementation through the middleware chain, turning
// panics and errors into an InternalError.
func (d *Dispatcher) invoke(ctx context.Context, cmd *Command, inv *plugin.Invocation) (reply plugin.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InternalError{
				Command: cmd.QualifiedName,
				Cause:   fmt.Errorf("panic: %v", r),
				Stack:   debug.Stack(),
			}
		}
	}()

	fn := cmd.Handler
	for i := len(d.middleware) - 1; i >= 0; i-- {
		fn = d.middleware[i](cmd, fn)
	}

	reply, err = fn.Invoke(ctx, inv)
	if err != nil && !errors.Is(err, plugin.ErrPermissionDenied) {
		var internal *InternalError
		if !errors.As(err, &internal) {
			err = &InternalError{Command: cmd.QualifiedName, Cause: err}
		}
	}
	return reply, err
}

func (d *Dispatcher) deny(ctx context.Context, msg Message, res *Result, err error) {
	res.Outcome = PermissionDenied
	res.Err = err
	res.Reply = plugin.Reply{
		Severity: plugin.SeverityDenied,
		Text:     d.text("dispatch.permission_denied", "You are not allowed to use %s.", res.Name),
	}
	d.send(ctx, msg, res.Reply)
}

// hasPermission fails closed without a checker.
func (d *Dispatcher) hasPermission(userID, key string) bool {
	if d.perms == nil {
		return false
	}
	return d.perms.HasPermission(userID, key)
}

func (d *Dispatcher) allowed(msg Message, cmd *Command) bool {
	for _, f := range d.filters {
		if !f(msg, cmd) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) text(key, fallback string, args ...any) string {
	if d.localizer != nil {
		return d.localizer.Text(key, args...)
	}
	return fmt.Sprintf(fallback, args...)
}

func (d *Dispatcher) send(ctx context.Context, msg Message, reply plugin.Reply) {
	if d.sink == nil || reply.Text == "" {
		return
	}
	if _, err := d.sink.Send(ctx, msg.ChannelID, reply.Severity, reply.Text); err != nil {
		d.logger.Warn().Err(err).Str("channel_id", msg.ChannelID).Msg("Failed to send reply")
	}
}

func (d *Dispatcher) observe(ctx context.Context, o Observer, msg Message, res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("Panic in dispatch observer")
		}
	}()
	o.Observe(ctx, msg, res)
}
