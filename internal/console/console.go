// Package console runs the bot against a terminal: lines read from an
// io.Reader are dispatched as messages from a fixed user, replies are
// written to an io.Writer.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/harun/openbot/pkg/command"
	"github.com/harun/openbot/pkg/plugin"
)

// Default identities of console messages.
const (
	UserID    = "console"
	ChannelID = "console"
)

// Sink writes replies to a writer.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	nextID atomic.Int64
}

// NewSink returns a sink writing to out.
func NewSink(out io.Writer) *Sink {
	return &Sink{out: out}
}

// Send implements plugin.MessageSink.
func (s *Sink) Send(_ context.Context, _ string, severity plugin.Severity, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := ""
	switch severity {
	case plugin.SeverityValidation:
		prefix = "! "
	case plugin.SeverityDenied:
		prefix = "x "
	}
	if _, err := fmt.Fprintf(s.out, "%s%s\n", prefix, text); err != nil {
		return "", err
	}
	return strconv.FormatInt(s.nextID.Add(1), 10), nil
}

// Delete is a no-op; written lines cannot be taken back.
func (s *Sink) Delete(context.Context, string, string) error {
	return nil
}

// Run dispatches every line of in as a message from userID until in is
// exhausted or ctx is cancelled.
func Run(ctx context.Context, in io.Reader, userID string, dispatch func(context.Context, command.Message)) error {
	if userID == "" {
		userID = UserID
	}

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	var n int
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			n++
			dispatch(ctx, command.Message{
				Text:      line,
				UserID:    userID,
				ChannelID: ChannelID,
				MessageID: strconv.Itoa(n),
			})
		}
	}
}
