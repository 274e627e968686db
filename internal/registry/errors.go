package registry

import "fmt"

// RequestError marks a failure talking to the registry service so callers
// can tell a registry hiccup apart from other startup failures.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("registry request %s failed: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
