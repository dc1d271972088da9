package replay

import (
	"errors"
	"fmt"
)

// ErrAborted is returned when the abort signal was observed before a hop.
var ErrAborted = errors.New("replay aborted")

// TransportError wraps DNS, connect, TLS and timeout failures. These are
// never retried.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
