package task

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.opcore.dev/opcore/mechanism"
	"go.opcore.dev/opcore/operation"
)

// Condition ends an OperationTask early. ok is false when the condition cannot be evaluated,
// which cancels the task.
type Condition interface {
	Met() (met, ok bool)
}

// SensorCondition is met when a mechanism reading is within Tolerance of Target.
type SensorCondition struct {
	Reader    mechanism.SensorReader
	Reading   string
	Target    float64
	Tolerance float64
}

// Met implements Condition.
func (c SensorCondition) Met() (bool, bool) {
	v, ok := c.Reader.Readings()[c.Reading]
	if !ok || math.IsNaN(v) {
		return false, false
	}
	return math.Abs(v-c.Target) <= c.Tolerance, true
}

// OperationTask holds one operation, chosen from an allowed set, at its active value until
// Timeout elapses or Until is met.
type OperationTask struct {
	Op      operation.ID
	Value   float64
	Timeout time.Duration
	Until   Condition

	start   time.Time
	now     time.Time
	met     bool
	missing bool
}

// NewOperationTask checks op against allowed; an empty allowed set permits any operation.
// The active value of a digital operation is true.
func NewOperationTask(allowed []operation.ID, op operation.ID, value float64, timeout time.Duration) (*OperationTask, error) {
	if len(allowed) > 0 && !lo.Contains(allowed, op) {
		return nil, errors.Errorf("operation %q is not one of %v", op, operation.Names(allowed))
	}
	if timeout <= 0 {
		return nil, errors.Errorf("operation %q needs a positive timeout", op)
	}
	if op.Kind == operation.Digital {
		value = 1
	}
	return &OperationTask{Op: op, Value: value, Timeout: timeout}, nil
}

// Begin implements Task.
func (t *OperationTask) Begin(env *Env) error {
	t.start, t.now = env.Now, env.Now
	return nil
}

// Update implements Task.
func (t *OperationTask) Update(env *Env) error {
	t.now = env.Now
	if t.Until != nil {
		met, ok := t.Until.Met()
		t.met, t.missing = met, !ok
		if t.met || t.missing {
			return operation.SetValue(env.Ops, t.Op, 0)
		}
	}
	return operation.SetValue(env.Ops, t.Op, t.Value)
}

// End implements Task.
func (t *OperationTask) End(env *Env) error {
	return operation.SetValue(env.Ops, t.Op, 0)
}

// Stop implements Task.
func (t *OperationTask) Stop(env *Env) error {
	return operation.SetValue(env.Ops, t.Op, 0)
}

// HasCompleted implements Task.
func (t *OperationTask) HasCompleted() bool {
	return t.met || t.now.Sub(t.start) >= t.Timeout
}

// ShouldCancel implements Task.
func (t *OperationTask) ShouldCancel() bool {
	return t.missing
}
