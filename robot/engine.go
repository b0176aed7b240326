// Package robot runs the per-tick control cycle: sensors, input, macros, publish, mechanisms.
package robot

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/macro"
	"go.opcore.dev/opcore/mechanism"
	"go.opcore.dev/opcore/operation"
	"go.opcore.dev/opcore/routine"
)

// logEvery limits repeated input and mechanism failure logs to one in this many.
const logEvery = 50

const noRequest = int32(-1)

// Tables are the validated, immutable tables an engine runs from.
type Tables struct {
	Vocabulary *operation.Vocabulary
	Shifts     *input.Dispatcher
	Resolver   *input.Resolver
	Macros     *macro.Manager
	Mechanisms *mechanism.Set
	// Selector picks the autonomous routine. Nil means autonomous idles.
	Selector routine.Selector
	// AutonomousClaims are held by the routine; empty means every operation.
	AutonomousClaims []operation.ID
	AutonomousResets []operation.ID
}

// Engine owns the operation bus and runs one control cycle per Tick. Tick and Transition are
// serialized; RequestMode and the accessors are safe from any goroutine.
type Engine struct {
	tables Tables
	source input.Source
	bus    *operation.Bus
	clock  clock.Clock
	logger logging.Logger

	mu            sync.Mutex
	mode          Mode
	inputFailures uint64
	mechFailures  uint64

	current *atomic.Int32
	pending *atomic.Int32
	ticks   *atomic.Uint64
	routine *atomic.String
}

// NewEngine returns a disabled engine and points every mechanism at its bus.
func NewEngine(tables Tables, source input.Source, clk clock.Clock, logger logging.Logger) (*Engine, error) {
	switch {
	case tables.Vocabulary == nil:
		return nil, errors.New("engine needs a vocabulary")
	case tables.Shifts == nil || tables.Resolver == nil:
		return nil, errors.New("engine needs shift and mapping tables")
	case tables.Macros == nil:
		return nil, errors.New("engine needs a macro manager")
	case source == nil:
		return nil, errors.New("engine needs an input source")
	}
	if tables.Mechanisms == nil {
		set, err := mechanism.NewSet()
		if err != nil {
			return nil, err
		}
		tables.Mechanisms = set
	}
	if len(tables.AutonomousClaims) == 0 {
		tables.AutonomousClaims = tables.Vocabulary.All()
	}
	if clk == nil {
		clk = clock.New()
	}
	e := &Engine{
		tables:  tables,
		source:  source,
		bus:     operation.NewBus(tables.Vocabulary),
		clock:   clk,
		logger:  logger.Sublogger("engine"),
		current: atomic.NewInt32(int32(Disabled)),
		pending: atomic.NewInt32(noRequest),
		ticks:   atomic.NewUint64(0),
		routine: atomic.NewString(""),
	}
	tables.Mechanisms.SetActiveCommandSource(e.bus)
	return e, nil
}

// Bus returns the bus mechanisms read from.
func (e *Engine) Bus() *operation.Bus {
	return e.bus
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	return Mode(e.current.Load())
}

// Ticks returns the number of completed ticks.
func (e *Engine) Ticks() uint64 {
	return e.ticks.Load()
}

// Routine returns the routine started by the last autonomous transition, or "".
func (e *Engine) Routine() string {
	return e.routine.Load()
}

// Active lists running macro and routine activations.
func (e *Engine) Active() []macro.Info {
	return e.tables.Macros.Active()
}

// RequestMode asks for a transition at the start of the next tick. A newer request replaces
// one that has not been applied yet.
func (e *Engine) RequestMode(m Mode) {
	e.pending.Store(int32(m))
}

// Transition changes mode now. Every activation is stopped with its reset set applied, trigger
// and shift history is forgotten, an all-neutral state is published and every mechanism is
// stopped. Entering autonomous then launches the selected routine.
func (e *Engine) Transition(ctx context.Context, to Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition(ctx, to)
}

func (e *Engine) transition(ctx context.Context, to Mode) error {
	if to == e.mode {
		return nil
	}
	from := e.mode
	now := e.clock.Now()

	e.tables.Macros.CancelAll(now, operation.NewState(e.tables.Vocabulary), "mode change to "+to.String())
	e.tables.Macros.Reset()
	e.tables.Shifts.Reset()
	e.tables.Resolver.Reset()
	e.bus.Clear()
	err := e.tables.Mechanisms.StopAll(ctx)

	e.mode = to
	e.current.Store(int32(to))
	e.routine.Store("")
	e.logger.Infow("mode transition", "from", from, "to", to)

	if to == Autonomous {
		err = multierr.Append(err, e.startRoutine(now))
	}
	return err
}

func (e *Engine) startRoutine(now time.Time) error {
	if e.tables.Selector == nil {
		e.logger.Warn("no routine selector, autonomous will idle")
		return nil
	}
	r, err := e.tables.Selector.SelectRoutine()
	if err != nil {
		return errors.Wrap(err, "selecting routine")
	}
	scratch := operation.NewState(e.tables.Vocabulary)
	if _, err := e.tables.Macros.Launch(r.Name, r.Factory, e.tables.AutonomousClaims, e.tables.AutonomousResets, now, scratch); err != nil {
		return errors.Wrapf(err, "starting routine %q", r.Name)
	}
	e.routine.Store(r.Name)
	return nil
}

// Tick runs one control cycle. Input and mechanism failures are logged and never skip the
// publish; the returned error only reports them.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs error
	if req := e.pending.Swap(noRequest); req != noRequest {
		errs = multierr.Append(errs, e.transition(ctx, Mode(req)))
	}
	now := e.clock.Now()

	if err := e.tables.Mechanisms.ReadSensors(ctx); err != nil {
		e.mechanismFailed("reading sensors", err)
		errs = multierr.Append(errs, err)
	}

	frame, err := e.source.Read(ctx)
	if err != nil {
		e.inputFailures++
		if e.inputFailures%logEvery == 1 {
			e.logger.Warnw("input read failed, treating every control as released", "error", err, "failures", e.inputFailures)
		}
		frame = input.NewFrame()
		errs = multierr.Append(errs, errors.Wrap(err, "reading input"))
	} else if e.inputFailures > 0 {
		e.logger.Infow("input recovered", "failures", e.inputFailures)
		e.inputFailures = 0
	}
	held := e.tables.Shifts.Held(frame)

	state := operation.NewState(e.tables.Vocabulary)
	// Driver input only reaches operations in teleop; in autonomous the routine is the sole
	// writer and anything it does not hold stays neutral.
	if e.mode == Teleop {
		if err := e.tables.Resolver.Resolve(frame, held, state.Writer(operation.InputOwner)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if e.mode != Disabled {
		e.tables.Macros.Tick(now, frame, held, e.mode == Teleop, state)
	}
	e.bus.Publish(state)

	if e.mode != Disabled {
		if err := e.tables.Mechanisms.Update(ctx); err != nil {
			e.mechanismFailed("updating mechanisms", err)
			errs = multierr.Append(errs, err)
		}
	}
	e.ticks.Inc()
	return errs
}

func (e *Engine) mechanismFailed(what string, err error) {
	e.mechFailures++
	if e.mechFailures%logEvery == 1 {
		e.logger.Warnw(what+" failed", "error", err, "failures", e.mechFailures)
	}
}

// Close disables the engine, stopping every activation and mechanism.
func (e *Engine) Close(ctx context.Context) error {
	return e.Transition(ctx, Disabled)
}
