// Package task implements cooperative tasks: units of work that run across control ticks
// without blocking, and combinators that compose them.
package task

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/operation"
)

// Env is what the scheduler hands a task on every lifecycle call.
type Env struct {
	// Now is the tick time. It never goes backwards within one activation.
	Now time.Time
	// Ops writes on behalf of the activation running the task.
	Ops    operation.Writer
	Logger logging.Logger
}

// A Task is driven by the scheduler: Begin once, Update once per tick until HasCompleted or
// ShouldCancel, then exactly one of End or Stop. Update must not block.
type Task interface {
	Begin(env *Env) error
	Update(env *Env) error
	// End finishes the task gracefully.
	End(env *Env) error
	// Stop is forced cancellation. Outputs must be left safe.
	Stop(env *Env) error
	HasCompleted() bool
	ShouldCancel() bool
}

// Factory builds a fresh task tree. Task instances are never reused across runs.
type Factory func() (Task, error)

// State is the lifecycle position of a task as seen by its Runner.
type State uint8

// Lifecycle states.
const (
	Created State = iota
	Running
	Completed
	Cancelled
	Ended
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal reports whether no further calls reach the task.
func (s State) Terminal() bool {
	return s == Ended
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case Created:
		return to == Running || to == Ended
	case Running:
		return to == Completed || to == Cancelled || to == Ended
	case Completed, Cancelled:
		return to == Ended
	default:
		return false
	}
}

// ErrNotRunning is returned when Update reaches a task that has not begun or has already
// finished.
var ErrNotRunning = errors.New("task is not running")

// Runner enforces the lifecycle around a Task and recovers panics raised by it.
type Runner struct {
	task  Task
	state State
	err   error
}

// NewRunner wraps t in the Created state.
func NewRunner(t Task) *Runner {
	return &Runner{task: t}
}

// Task returns the wrapped task.
func (r *Runner) Task() Task {
	return r.task
}

// State returns the lifecycle state.
func (r *Runner) State() State {
	return r.state
}

// Err returns the error that cancelled or aborted the task, if any.
func (r *Runner) Err() error {
	return r.err
}

func (r *Runner) transition(to State) {
	if !isAllowedTransition(r.state, to) {
		panic(errors.Errorf("disallowed task transition %s -> %s", r.state, to))
	}
	r.state = to
}

// Begin starts the task. On failure the task is Ended without End or Stop being called.
func (r *Runner) Begin(env *Env) error {
	if r.state != Created {
		return errors.Errorf("cannot begin a %s task", r.state)
	}
	if err := guard("begin", func() error { return r.task.Begin(env) }); err != nil {
		r.err = err
		r.transition(Ended)
		return err
	}
	r.transition(Running)
	return nil
}

// Update ticks the task and evaluates its predicates, cancellation first. An Update error or
// panic cancels the task. The resulting state is returned.
func (r *Runner) Update(env *Env) (State, error) {
	if r.state != Running {
		return r.state, errors.Wrapf(ErrNotRunning, "task is %s", r.state)
	}
	if err := guard("update", func() error { return r.task.Update(env) }); err != nil {
		r.err = err
		r.transition(Cancelled)
		return r.state, nil
	}
	var cancel, done bool
	if err := guard("predicates", func() error {
		cancel = r.task.ShouldCancel()
		done = !cancel && r.task.HasCompleted()
		return nil
	}); err != nil {
		r.err = err
		cancel = true
	}
	switch {
	case cancel:
		r.transition(Cancelled)
	case done:
		r.transition(Completed)
	}
	return r.state, nil
}

// End finishes the task gracefully. It is a no-op once the task has ended.
func (r *Runner) End(env *Env) error {
	return r.finish(env, "end", r.task.End)
}

// Stop cancels the task. It is a no-op once the task has ended.
func (r *Runner) Stop(env *Env) error {
	return r.finish(env, "stop", r.task.Stop)
}

func (r *Runner) finish(env *Env, what string, f func(*Env) error) error {
	switch r.state {
	case Ended:
		return nil
	case Created:
		r.transition(Ended)
		return nil
	case Running, Completed, Cancelled:
	}
	r.transition(Ended)
	return guard(what, func() error { return f(env) })
}

// guard runs f and converts a panic into an error.
func guard(what string, f func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok {
				err = errors.Wrapf(perr, "panic in %s", what)
				return
			}
			err = errors.Errorf("panic in %s: %v", what, p)
		}
	}()
	return f()
}

// Build calls a factory, converting a panic into an error.
func Build(f Factory) (t Task, err error) {
	if f == nil {
		return nil, errors.New("nil task factory")
	}
	err = guard("factory", func() error {
		var ferr error
		t, ferr = f()
		return ferr
	})
	if err == nil && t == nil {
		err = errors.New("task factory returned no task")
	}
	return t, err
}
