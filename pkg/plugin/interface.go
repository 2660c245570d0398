package plugin

import (
	"context"
	"errors"

	"github.com/harun/openbot/pkg/configtree"
	"github.com/harun/openbot/pkg/grammar"
	"github.com/rs/zerolog"
)

// ErrPermissionDenied is returned by a Function when the caller lacks a
// permission the function checks for itself.
var ErrPermissionDenied = errors.New("permission denied")

// Plugin is implemented by every plugin. Load receives the host services and
// returns the implementations of the functions the manifest declares, keyed by
// function ID.
type Plugin interface {
	Load(ctx context.Context, host Host) (Functions, error)
	LoadTest() TestResult
}

// ManifestProvider is implemented by single-file plugins compiled into the
// binary, which have no manifest file on disk.
type ManifestProvider interface {
	Manifest() Manifest
}

// LoadTester is optionally implemented by a Function to run its own self-test.
// A failing function is skipped without affecting the rest of its plugin.
type LoadTester interface {
	LoadTest() TestResult
}

// TestResult is the outcome of a self-test. An empty Message on failure is
// reported as DefaultLoadTestMessage.
type TestResult struct {
	OK      bool
	Message string
}

// Passed is the TestResult of a successful self-test.
func Passed() TestResult { return TestResult{OK: true} }

// Failed returns a failing TestResult with msg.
func Failed(msg string) TestResult { return TestResult{Message: msg} }

// DefaultLoadTestMessage is used when a failed self-test gives no reason.
const DefaultLoadTestMessage = "load test failed"

// Base can be embedded by plugins that have no self-test.
type Base struct{}

// LoadTest always passes.
func (Base) LoadTest() TestResult { return Passed() }

// Function is a single command implementation.
type Function interface {
	Invoke(ctx context.Context, inv *Invocation) (Reply, error)
}

// FunctionFunc adapts a plain func to Function.
type FunctionFunc func(ctx context.Context, inv *Invocation) (Reply, error)

// Invoke calls f.
func (f FunctionFunc) Invoke(ctx context.Context, inv *Invocation) (Reply, error) {
	return f(ctx, inv)
}

// Functions maps a manifest function ID to its implementation.
type Functions map[string]Function

// Severity is how a reply is surfaced to the caller.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityValidation
	SeverityDenied
)

func (s Severity) String() string {
	switch s {
	case SeverityValidation:
		return "validation"
	case SeverityDenied:
		return "denied"
	default:
		return "info"
	}
}

// Reply is what a function sends back. An empty Text sends nothing.
type Reply struct {
	Text     string
	Severity Severity
}

// Info returns an informational reply.
func Info(text string) Reply { return Reply{Text: text} }

// MessageSink delivers text to the chat platform.
type MessageSink interface {
	Send(ctx context.Context, channelID string, severity Severity, text string) (messageID string, err error)
	Delete(ctx context.Context, channelID, messageID string) error
}

// Localizer renders a localized string for key with positional arguments.
type Localizer interface {
	Text(key string, args ...any) string
}

// PermissionChecker answers whether a user holds a permission key.
type PermissionChecker interface {
	HasPermission(userID, key string) bool
}

// Host is the set of services a plugin may use while loading.
type Host interface {
	PluginID() string
	Logger() zerolog.Logger
	// Config returns the plugin's own subtree of the published configuration.
	Config() configtree.Tree
	Permissions() PermissionChecker
	Localizer() Localizer
}

// Invocation carries everything a function receives for one dispatched message.
type Invocation struct {
	ID        string
	Command   string // qualified name
	PluginID  string
	Args      []string
	Modifiers grammar.Modifiers

	UserID    string
	ChannelID string
	MessageID string

	Config      configtree.Tree // full configuration snapshot taken at dispatch start
	Permissions PermissionChecker
	Localizer   Localizer
	Logger      zerolog.Logger
}

// HasPermission checks key for the calling user. It is false when no
// permission checker is attached.
func (inv *Invocation) HasPermission(key string) bool {
	if inv.Permissions == nil {
		return false
	}
	return inv.Permissions.HasPermission(inv.UserID, key)
}

// Text localizes key, falling back to the key itself without a localizer.
func (inv *Invocation) Text(key string, args ...any) string {
	if inv.Localizer == nil {
		return key
	}
	return inv.Localizer.Text(key, args...)
}
