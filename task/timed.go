package task

import (
	"time"

	"go.uber.org/multierr"

	"go.opcore.dev/opcore/operation"
)

// Timed completes on the first update at which the time since Begin has reached Duration; the
// bound is inclusive. While running it writes Writes every tick; with no writes it is a plain
// wait.
type Timed struct {
	Duration time.Duration
	Writes   map[operation.ID]float64

	start time.Time
	now   time.Time
}

// NewTimed returns a timed task.
func NewTimed(d time.Duration, writes map[operation.ID]float64) *Timed {
	return &Timed{Duration: d, Writes: writes}
}

// NewWait returns a timed task that writes nothing.
func NewWait(d time.Duration) *Timed {
	return NewTimed(d, nil)
}

// Begin implements Task.
func (t *Timed) Begin(env *Env) error {
	t.start, t.now = env.Now, env.Now
	return nil
}

// Update implements Task.
func (t *Timed) Update(env *Env) error {
	t.now = env.Now
	var errs error
	for id, v := range t.Writes {
		errs = multierr.Append(errs, operation.SetValue(env.Ops, id, v))
	}
	return errs
}

// Elapsed returns the time since Begin as of the last call.
func (t *Timed) Elapsed() time.Duration {
	return t.now.Sub(t.start)
}

// End implements Task.
func (t *Timed) End(env *Env) error { return nil }

// Stop implements Task.
func (t *Timed) Stop(env *Env) error { return nil }

// HasCompleted implements Task.
func (t *Timed) HasCompleted() bool {
	return t.Elapsed() >= t.Duration
}

// ShouldCancel implements Task.
func (t *Timed) ShouldCancel() bool { return false }
