package macro

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/operation"
	"go.opcore.dev/opcore/task"
)

type slot struct {
	desc    Description
	tracker *input.ButtonTracker
	// logical is the trigger's logical value on the previous evaluation.
	logical bool
	active  *Activation
	logger  logging.Logger
}

// Manager owns macro slots and the activations running in them. Tick must be called from a
// single goroutine; Active may be called from anywhere.
type Manager struct {
	mu       sync.Mutex
	slots    []*slot
	byName   map[string]*slot
	claims   *operation.ClaimTable
	running  []*Activation
	policy   OverlapPolicy
	reporter Reporter
	logger   logging.Logger
}

// NewManager validates descs and returns a manager with every slot idle. A nil reporter logs
// failures.
func NewManager(descs []Description, policy OverlapPolicy, reporter Reporter, logger logging.Logger) (*Manager, error) {
	if err := ValidateDescriptions(descs); err != nil {
		return nil, err
	}
	logger = logger.Sublogger("macros")
	if reporter == nil {
		reporter = NewLogReporter(logger)
	}
	m := &Manager{
		byName:   make(map[string]*slot, len(descs)),
		claims:   operation.NewClaimTable(),
		policy:   policy,
		reporter: reporter,
		logger:   logger,
	}
	for _, d := range descs {
		s := &slot{desc: d, tracker: input.NewButtonTracker(d.Trigger.Type), logger: logger.Sublogger(d.Name)}
		m.slots = append(m.slots, s)
		m.byName[d.Name] = s
	}
	return m, nil
}

// Policy returns the overlap policy.
func (m *Manager) Policy() OverlapPolicy {
	return m.policy
}

// Tick advances every macro by one control cycle. state must already hold this tick's direct
// input values. When triggers is false no trigger is evaluated and running activations simply
// advance.
//
// Within a tick: toggled-off macros are stopped, new activations start (ending any they
// overlap first), then every running activation is updated, newest last.
func (m *Manager) Tick(now time.Time, frame input.Frame, held input.ShiftSet, triggers bool, state *operation.State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if triggers {
		var starts []*slot
		for _, s := range m.slots {
			t := s.desc.Trigger
			logical := s.tracker.Update(t.Raw(frame), t.Condition.Matches(held))
			rising := logical && !s.logical
			falling := !logical && s.logical
			s.logical = logical
			switch {
			case falling && t.Type == input.Toggle && s.active != nil:
				m.finish(s.active, now, state, false, m.takeOver(s.active, state), "toggled off")
			case rising && s.active == nil:
				starts = append(starts, s)
			case rising:
				s.logger.Debugw("trigger ignored while running", "activation", s.active.ID)
			}
		}
		for _, s := range starts {
			m.start(s.desc.Name, KindMacro, s.desc.Owner(), s.desc.Factory, s.desc.Claims, s.desc.Resets, s, now, state)
		}
	}

	for _, a := range append([]*Activation(nil), m.running...) {
		m.update(a, now, state)
	}
}

// Launch starts a task outside the trigger path, e.g. an autonomous routine. The activation
// is subject to the overlap policy like any macro and is advanced by Tick.
func (m *Manager) Launch(
	name string,
	factory task.Factory,
	claims, resets []operation.ID,
	now time.Time,
	state *operation.State,
) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(claims) == 0 {
		return Info{}, errors.Errorf("routine %q claims no operations", name)
	}
	a, err := m.start(name, KindRoutine, operation.Owner("routine:"+name), factory, claims, resets, nil, now, state)
	if err != nil {
		return Info{}, err
	}
	return a.info(), nil
}

// CancelAll stops every running activation, applying reset sets.
func (m *Manager) CancelAll(now time.Time, state *operation.State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range append([]*Activation(nil), m.running...) {
		m.finish(a, now, state, false, m.takeOver(a, state), reason)
	}
}

// Reset forgets all trigger history. Running activations are unaffected.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		s.tracker.Reset()
		s.logical = false
	}
}

// Active lists running activations, oldest first.
func (m *Manager) Active() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.running))
	for _, a := range m.running {
		out = append(out, a.info())
	}
	return out
}

// Running reports whether the named macro is running.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byName[name]
	return ok && s.active != nil
}

// Holder returns the activation that holds id across ticks, if any.
func (m *Manager) Holder(id operation.ID) (operation.Owner, bool) {
	return m.claims.Holder(id)
}

func (m *Manager) report(a *Activation, name string, stage Stage, err error) {
	f := Failure{Name: name, Stage: stage, Err: err}
	if a != nil {
		f.Activation = a.ID
	}
	m.reporter.ReportFailure(f)
}

// start builds and begins a new activation. Failures leave the claimed operations with the
// direct values already in state.
func (m *Manager) start(
	name string,
	kind Kind,
	owner operation.Owner,
	factory task.Factory,
	claims, resets []operation.ID,
	s *slot,
	now time.Time,
	state *operation.State,
) (*Activation, error) {
	logger := m.logger
	if s != nil {
		logger = s.logger
	}
	if holders := m.claims.Conflicts(owner, claims); len(holders) > 0 {
		if m.policy == Keep {
			logger.Infow("activation refused", string(kind), name, "held_by", holders)
			m.clearTrigger(s)
			return nil, errors.Errorf("%s %q overlaps running %v", kind, name, holders)
		}
		for _, holder := range holders {
			if a := m.findOwner(holder); a != nil {
				m.finish(a, now, state, true, m.takeOver(a, state), "interrupted by "+name)
			}
		}
	}

	t, err := task.Build(factory)
	if err != nil {
		m.report(nil, name, StageBuild, err)
		m.clearTrigger(s)
		return nil, err
	}
	a := &Activation{
		ID:      uuid.New(),
		Name:    name,
		Kind:    kind,
		Owner:   owner,
		Started: now,
		Claims:  lo.Uniq(claims),
		Resets:  lo.Uniq(resets),
		runner:  task.NewRunner(t),
		slot:    s,
		logger:  logger,
	}
	if err := m.claims.Acquire(owner, a.Claims); err != nil {
		m.clearTrigger(s)
		return nil, err
	}
	direct := state.Snapshot(a.Claims)
	if err := state.Claim(owner, a.Claims); err != nil {
		m.claims.Release(owner)
		m.clearTrigger(s)
		return nil, err
	}
	err = a.runner.Begin(a.env(now, state))
	// Update takes the operations over again with its own snapshot of the direct values.
	state.Release(owner, direct)
	if err != nil {
		m.claims.Release(owner)
		m.report(a, name, StageBegin, err)
		m.clearTrigger(s)
		return nil, err
	}
	if s != nil {
		s.active = a
	}
	m.running = append(m.running, a)
	logger.Infow("activation started", string(kind), name, "activation", a.ID, "claims", operation.Names(a.Claims))
	return a, nil
}

func (m *Manager) update(a *Activation, now time.Time, state *operation.State) {
	direct := state.Snapshot(a.Claims)
	if err := state.Claim(a.Owner, a.Claims); err != nil {
		m.report(a, a.Name, StageUpdate, err)
		m.finish(a, now, state, false, nil, "claim lost")
		return
	}
	st, err := a.runner.Update(a.env(now, state))
	if err != nil {
		m.report(a, a.Name, StageUpdate, err)
		m.finish(a, now, state, false, direct, "update failed")
		return
	}
	switch st {
	case task.Cancelled:
		if rerr := a.runner.Err(); rerr != nil {
			m.report(a, a.Name, StageUpdate, rerr)
		}
		m.finish(a, now, state, false, direct, "cancelled")
	case task.Completed:
		m.finish(a, now, state, true, nil, "completed")
	case task.Created, task.Running, task.Ended:
	}
}

// takeOver hands an activation its claimed operations in state for a tick on which it has not
// been updated, returning the direct values they held.
func (m *Manager) takeOver(a *Activation, state *operation.State) map[operation.ID]float64 {
	direct := state.Snapshot(a.Claims)
	if err := state.Claim(a.Owner, a.Claims); err != nil {
		a.logger.Warnw("cannot take claimed operations to finish", "activation", a.ID, "error", err)
	}
	return direct
}

// finish ends (graceful) or stops an activation, applies its reset set and drops its claims.
// A non-nil direct hands the claimed operations back to input with those values, except for
// the reset set, so a cancelled activation leaves no stale command behind.
func (m *Manager) finish(
	a *Activation,
	now time.Time,
	state *operation.State,
	graceful bool,
	direct map[operation.ID]float64,
	reason string,
) {
	env := a.env(now, state)
	var err error
	if graceful {
		err = a.runner.End(env)
	} else {
		err = a.runner.Stop(env)
	}
	if err != nil {
		m.report(a, a.Name, StageFinish, err)
	}
	// Another running activation may hold a reset operation without having written it yet
	// this tick, so the claim table decides, not the state's owners.
	resets, held := lo.FilterReject(a.Resets, func(id operation.ID, _ int) bool {
		holder, ok := m.claims.Holder(id)
		return !ok || holder == a.Owner
	})
	if skipped := append(held, state.Neutralize(a.Owner, resets)...); len(skipped) > 0 {
		a.logger.Debugw("reset operations held elsewhere", "activation", a.ID, "skipped", operation.Names(skipped))
	}
	if direct != nil {
		for _, id := range a.Resets {
			delete(direct, id)
		}
		state.Release(a.Owner, direct)
	}
	m.claims.Release(a.Owner)
	m.running = lo.Without(m.running, a)
	if a.slot != nil {
		if a.slot.active == a {
			a.slot.active = nil
		}
		m.clearTrigger(a.slot)
	}
	a.logger.Infow("activation ended", string(a.Kind), a.Name, "activation", a.ID, "reason", reason,
		"ran_for", now.Sub(a.Started))
}

// clearTrigger drops a slot's toggle so that the next press starts the macro again.
func (m *Manager) clearTrigger(s *slot) {
	if s == nil || s.desc.Trigger.Type != input.Toggle {
		return
	}
	s.tracker.ClearToggle()
	s.logical = false
}

func (m *Manager) findOwner(owner operation.Owner) *Activation {
	for _, a := range m.running {
		if a.Owner == owner {
			return a
		}
	}
	return nil
}

// Names returns the configured macro names, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.slots))
	for _, s := range m.slots {
		names = append(names, s.desc.Name)
	}
	sort.Strings(names)
	return names
}
