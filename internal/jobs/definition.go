package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrInvalidParams marks an enqueue-time params payload that failed schema
// decoding or validation.
type ErrInvalidParams struct {
	error
}

// Run is the surface a job handler gets to interact with its own execution
// record: structured log capture, progress stats and the completion payload.
type Run interface {
	ExecutionID() string
	TenantID() string
	OrgID() string
	Params() json.RawMessage
	Log(level, format string, args ...any)
	UpdateStats(stats any) error
	SetCompletionInfo(info any) error
}

// Handler executes one job run. A returned error marks the execution failed.
type Handler func(ctx context.Context, run Run) error

// JobDefinition is registered once per job type, not per execution.
// ParamsPrototype and StatsPrototype are struct prototypes carrying
// `validate` tags; enqueue-time payloads are decoded into a fresh copy and
// validated before any handler sees them.
type JobDefinition struct {
	Name                    string
	Description             string
	Category                string
	ParamsPrototype         any
	StatsPrototype          any
	Handler                 Handler
	ShowInDashboard         bool
	ExcludeFromStats        bool
	KeepCardAfterCompletion bool
	TriggerEvents           []string
	Cron                    string
}

func decodeParams(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	return json.Unmarshal(raw, target)
}

// ValidateParams checks an opaque params payload against the definition's
// declared prototype. Definitions without a prototype accept anything.
func (d *JobDefinition) ValidateParams(raw json.RawMessage) error {
	if d.ParamsPrototype == nil {
		return nil
	}
	if len(raw) == 0 {
		return &ErrInvalidParams{fmt.Errorf("job %s requires params", d.Name)}
	}

	prototype := reflect.TypeOf(d.ParamsPrototype)
	if prototype.Kind() == reflect.Ptr {
		prototype = prototype.Elem()
	}
	target := reflect.New(prototype).Interface()

	if err := json.Unmarshal(raw, target); err != nil {
		return &ErrInvalidParams{fmt.Errorf("job %s params do not match schema: %w", d.Name, err)}
	}
	if err := validate.Struct(target); err != nil {
		return &ErrInvalidParams{fmt.Errorf("job %s params failed validation: %w", d.Name, err)}
	}
	return nil
}
