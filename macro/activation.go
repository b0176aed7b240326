package macro

import (
	"time"

	"github.com/google/uuid"

	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/operation"
	"go.opcore.dev/opcore/task"
)

// Kind tells macro activations from autonomous routines.
type Kind string

// Activation kinds.
const (
	KindMacro   Kind = "macro"
	KindRoutine Kind = "routine"
)

// Activation is one run of a macro or routine.
type Activation struct {
	ID      uuid.UUID
	Name    string
	Kind    Kind
	Owner   operation.Owner
	Started time.Time
	Claims  []operation.ID
	Resets  []operation.ID

	runner *task.Runner
	slot   *slot
	logger logging.Logger
}

// Info is a read-only view of an activation.
type Info struct {
	ID      uuid.UUID
	Name    string
	Kind    Kind
	Started time.Time
	Claims  []string
	State   task.State
}

func (a *Activation) info() Info {
	return Info{
		ID:      a.ID,
		Name:    a.Name,
		Kind:    a.Kind,
		Started: a.Started,
		Claims:  operation.Names(a.Claims),
		State:   a.runner.State(),
	}
}

func (a *Activation) env(now time.Time, state *operation.State) *task.Env {
	return &task.Env{Now: now, Ops: state.Writer(a.Owner), Logger: a.logger}
}
