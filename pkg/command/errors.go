package command

import "fmt"

// ArgumentError is returned to the caller when a command's argument count
// does not satisfy its allowed_args_length.
type ArgumentError struct {
	Command string
	Count   int
	Help    string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s does not accept %d argument(s)", e.Command, e.Count)
}

// InternalError wraps a failure raised by a command implementation.
type InternalError struct {
	Command string
	Cause   error
	Stack   []byte
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }
