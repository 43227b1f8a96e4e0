package stream

import (
	"fmt"
)

// TransportError is the recoverable error exposed by Status and Err.
// Op is "dial", "read" or "decode"; Code is the websocket close code when known.
type TransportError struct {
	Op   string
	Code int
	Err  error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("stream %s (close %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
