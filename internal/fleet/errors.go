package fleet

import (
	"errors"
	"fmt"

	"github.com/fleetworks/jobfleet/internal/registry"
)

// FailureClass buckets scheduler startup failures for logging and metrics.
type FailureClass string

const (
	// FailureClassRegistry covers failures talking to the tenant/org registry.
	FailureClassRegistry FailureClass = "registry"
	// FailureClassResourceInit covers assertion-style failures from a
	// scheduler's resource initializers.
	FailureClassResourceInit FailureClass = "resource_init"
	// FailureClassGeneric covers everything else.
	FailureClassGeneric FailureClass = "generic"
)

// ResourceInitError is returned by schedulers whose underlying resource
// initializer asserted during startup. Such errors frequently obscure their
// true cause, so the poller re-labels them before logging.
type ResourceInitError struct {
	Resource string
	Err      error
}

func (e *ResourceInitError) Error() string {
	return fmt.Sprintf("resource %s failed to initialize: %v", e.Resource, e.Err)
}

func (e *ResourceInitError) Unwrap() error {
	return e.Err
}

// Classify maps a startup failure to its failure class.
func Classify(err error) FailureClass {
	var initErr *ResourceInitError
	if errors.As(err, &initErr) {
		return FailureClassResourceInit
	}
	var reqErr *registry.RequestError
	if errors.As(err, &reqErr) {
		return FailureClassRegistry
	}
	return FailureClassGeneric
}

// FailureMessage renders a startup failure for the log. Resource-init
// assertions get a clarifying prefix since their default message often
// hides the root cause.
func FailureMessage(err error) string {
	var initErr *ResourceInitError
	if errors.As(err, &initErr) {
		return fmt.Sprintf("scheduler resource initialization asserted (root cause may be masked): resource=%s cause=%v", initErr.Resource, initErr.Err)
	}
	return err.Error()
}
