package service

import (
	"fmt"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id string, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrExecutionNotFound(id string) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job execution")
}

type ErrInvalidRequest struct {
	error
}

func NewErrInvalidRequest(format string, args ...any) *ErrInvalidRequest {
	return &ErrInvalidRequest{fmt.Errorf(format, args...)}
}

type ErrInvalidTransition struct {
	error
}

func NewErrInvalidTransition(id, from, to string) *ErrInvalidTransition {
	return &ErrInvalidTransition{fmt.Errorf("job execution %s cannot transition from %s to %s", id, from, to)}
}
