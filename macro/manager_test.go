package macro

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/operation"
	"go.opcore.dev/opcore/task"
)

var (
	opX = operation.NewAnalog("drive", "forward")
	opY = operation.NewAnalog("elevator", "speed")
	opZ = operation.NewDigital("grabber", "clamp")
	opW = operation.NewAnalog("intake", "spin")

	stickY  = input.Control{Code: input.AbsoluteY}
	stickRY = input.Control{Code: input.AbsoluteRY}
	stickRX = input.Control{Code: input.AbsoluteRX}
	btnA    = input.Control{Code: input.ButtonSouth}
	btnB    = input.Control{Code: input.ButtonNorth}
	btnC    = input.Control{Code: input.ButtonWest}
	btnT    = input.Control{Code: input.ButtonStart}
)

// scripted writes fixed values each update and records its lifecycle.
type scripted struct {
	name     string
	writes   map[operation.ID]float64
	ticks    int
	cancelAt int
	updates  int
	log      *[]string
}

func (s *scripted) record(what string) { *s.log = append(*s.log, s.name+"."+what) }

func (s *scripted) Begin(env *task.Env) error {
	s.record("begin")
	return nil
}

func (s *scripted) Update(env *task.Env) error {
	s.updates++
	s.record("update")
	for id, v := range s.writes {
		if err := operation.SetValue(env.Ops, id, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *scripted) End(env *task.Env) error {
	s.record("end")
	return nil
}

func (s *scripted) Stop(env *task.Env) error {
	s.record("stop")
	return nil
}

func (s *scripted) HasCompleted() bool { return s.ticks > 0 && s.updates >= s.ticks }

func (s *scripted) ShouldCancel() bool { return s.cancelAt > 0 && s.updates >= s.cancelAt }

type rig struct {
	t        *testing.T
	vocab    *operation.Vocabulary
	resolver *input.Resolver
	mgr      *Manager
	now      time.Time
	log      []string
	failures []Failure
	triggers bool
}

func newRig(t *testing.T, policy OverlapPolicy, descs func(r *rig) []Description) *rig {
	t.Helper()
	r := &rig{
		t:        t,
		vocab:    operation.MustVocabulary(operation.Definition{ID: opX}, operation.Definition{ID: opY}, operation.Definition{ID: opZ}, operation.Definition{ID: opW}),
		now:      time.Unix(1000, 0),
		triggers: true,
	}
	d, err := input.NewDispatcher(nil)
	test.That(t, err, test.ShouldBeNil)
	r.resolver, err = input.NewResolver(d,
		[]input.DigitalMapping{{Operation: opZ, Trigger: input.Trigger{Control: input.Control{Code: input.ButtonEast}}}},
		[]input.AnalogMapping{
			{Operation: opX, Control: stickY},
			{Operation: opY, Control: stickRY},
			{Operation: opW, Control: stickRX},
		},
	)
	test.That(t, err, test.ShouldBeNil)
	reporter := ReporterFunc(func(f Failure) { r.failures = append(r.failures, f) })
	r.mgr, err = NewManager(descs(r), policy, reporter, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return r
}

func (r *rig) script(name string, ticks int, writes map[operation.ID]float64) *scripted {
	return &scripted{name: name, ticks: ticks, writes: writes, log: &r.log}
}

func (r *rig) factory(name string, ticks int, writes map[operation.ID]float64) task.Factory {
	return func() (task.Task, error) { return r.script(name, ticks, writes), nil }
}

// sticks is the analog input used on every tick: X reads 0.2, Y 0.3 and W 0.4.
func sticks() input.Frame {
	return input.NewFrame().WithAxis(stickY, 0.2).WithAxis(stickRY, 0.3).WithAxis(stickRX, 0.4)
}

func (r *rig) tick(pressed ...input.Control) *operation.State {
	r.t.Helper()
	r.now = r.now.Add(20 * time.Millisecond)
	f := sticks()
	for _, c := range pressed {
		f.Press(c)
	}
	s := operation.NewState(r.vocab)
	test.That(r.t, r.resolver.Resolve(f, 0, s.Writer(operation.InputOwner)), test.ShouldBeNil)
	r.mgr.Tick(r.now, f, 0, r.triggers, s)
	s.Publish()
	return s
}

func clickMacro(name string, c input.Control, f task.Factory, claims ...operation.ID) Description {
	return Description{
		Name:    name,
		Trigger: input.Trigger{Control: c, Type: input.Click},
		Factory: f,
		Claims:  claims,
	}
}

func TestMacroInterruption(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		return []Description{
			clickMacro("a", btnA, r.factory("a", 0, map[operation.ID]float64{opX: 1, opY: 1}), opX, opY),
			clickMacro("b", btnB, r.factory("b", 0, map[operation.ID]float64{opY: 0.5, opZ: 1}), opY, opZ),
		}
	})

	s := r.tick(btnA)
	test.That(t, s.GetAnalog(opX), test.ShouldEqual, 1.0)
	test.That(t, s.Owner(opY), test.ShouldEqual, operation.Owner("macro:a"))
	test.That(t, s.Owner(opZ), test.ShouldEqual, operation.InputOwner)

	s = r.tick()
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 1.0)

	s = r.tick(btnB)
	test.That(t, r.log, test.ShouldResemble, []string{
		"a.begin", "a.update", "a.update", "a.end", "b.begin", "b.update",
	})
	test.That(t, s.GetAnalog(opX), test.ShouldEqual, 0.2)
	test.That(t, s.Owner(opX), test.ShouldEqual, operation.InputOwner)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.5)
	test.That(t, s.Owner(opY), test.ShouldEqual, operation.Owner("macro:b"))
	test.That(t, s.GetDigital(opZ), test.ShouldBeTrue)
	test.That(t, r.mgr.Running("a"), test.ShouldBeFalse)
	test.That(t, r.mgr.Running("b"), test.ShouldBeTrue)

	holder, ok := r.mgr.Holder(opY)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, holder, test.ShouldEqual, operation.Owner("macro:b"))
	_, ok = r.mgr.Holder(opX)
	test.That(t, ok, test.ShouldBeFalse)

	active := r.mgr.Active()
	test.That(t, active, test.ShouldHaveLength, 1)
	test.That(t, active[0].Name, test.ShouldEqual, "b")
	test.That(t, active[0].Kind, test.ShouldEqual, KindMacro)
	test.That(t, active[0].Claims, test.ShouldResemble, []string{"elevator.speed", "grabber.clamp"})
	test.That(t, active[0].State, test.ShouldEqual, task.Running)
}

func TestMacroKeepPolicy(t *testing.T) {
	r := newRig(t, Keep, func(r *rig) []Description {
		return []Description{
			clickMacro("a", btnA, r.factory("a", 0, map[operation.ID]float64{opY: 1}), opX, opY),
			clickMacro("b", btnB, r.factory("b", 0, map[operation.ID]float64{opY: 0.5}), opY, opZ),
		}
	})
	r.tick(btnA)
	s := r.tick(btnB)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 1.0)
	test.That(t, r.mgr.Running("b"), test.ShouldBeFalse)
	test.That(t, r.log, test.ShouldResemble, []string{"a.begin", "a.update", "a.update"})
	test.That(t, r.mgr.Policy().String(), test.ShouldEqual, "keep")
}

func TestMacroSingleWriter(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		return []Description{
			clickMacro("a", btnA, r.factory("a", 3, map[operation.ID]float64{opX: -1}), opX),
			clickMacro("b", btnB, r.factory("b", 2, map[operation.ID]float64{opY: -1}), opY),
		}
	})
	script := [][]input.Control{{btnA}, {btnB}, {}, {btnA, btnB}, {}, {}, {}}
	for _, pressed := range script {
		s := r.tick(pressed...)
		for _, id := range r.vocab.All() {
			owner := s.Owner(id)
			holder, held := r.mgr.Holder(id)
			switch {
			case held:
				// a running activation holds the operation across ticks and wrote it this tick
				test.That(t, owner, test.ShouldEqual, holder)
			case owner != operation.InputOwner:
				// only an activation that ended this tick may still own it
				test.That(t, string(owner), test.ShouldStartWith, "macro:")
			}
		}
		if r.mgr.Running("a") {
			test.That(t, s.GetAnalog(opX), test.ShouldEqual, -1.0)
		}
		if !r.mgr.Running("b") && s.Owner(opY) == operation.InputOwner {
			test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.3)
		}
	}
}

func TestMacroResetsSkipNewerHolder(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		lift := clickMacro("lift", btnA, r.factory("lift", 3, map[operation.ID]float64{opX: -1}), opX)
		lift.Resets = []operation.ID{opY}
		return []Description{
			lift,
			clickMacro("hold", btnB, r.factory("hold", 0, map[operation.ID]float64{opY: 0.9}), opY),
		}
	})
	r.tick(btnA)
	s := r.tick(btnB)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.9)

	s = r.tick()
	test.That(t, r.mgr.Running("lift"), test.ShouldBeFalse)
	test.That(t, r.log, test.ShouldContain, "lift.end")
	test.That(t, r.log, test.ShouldNotContain, "hold.stop")
	test.That(t, r.mgr.Running("hold"), test.ShouldBeTrue)
	test.That(t, r.failures, test.ShouldBeEmpty)
	holder, held := r.mgr.Holder(opY)
	test.That(t, held, test.ShouldBeTrue)
	test.That(t, s.Owner(opY), test.ShouldEqual, holder)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.9)

	s = r.tick()
	test.That(t, s.GetAnalog(opX), test.ShouldEqual, 0.2)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.9)
	test.That(t, r.mgr.Running("hold"), test.ShouldBeTrue)
}

func TestMacroFactoryFailureFailsOpen(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		return []Description{
			clickMacro("broken", btnC, func() (task.Task, error) { return nil, errors.New("no elevator") }, opX, opY),
			clickMacro("panics", btnA, func() (task.Task, error) { panic("bad table") }, opX),
			clickMacro("refuses", btnB, func() (task.Task, error) {
				return &beginFails{}, nil
			}, opY),
		}
	})

	s := r.tick(btnC)
	test.That(t, s.GetAnalog(opX), test.ShouldEqual, 0.2)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.3)
	test.That(t, s.Owner(opX), test.ShouldEqual, operation.InputOwner)
	test.That(t, r.mgr.Running("broken"), test.ShouldBeFalse)
	test.That(t, r.failures, test.ShouldHaveLength, 1)
	test.That(t, r.failures[0].Stage, test.ShouldEqual, StageBuild)
	test.That(t, r.failures[0].Name, test.ShouldEqual, "broken")

	s = r.tick(btnA)
	test.That(t, s.GetAnalog(opX), test.ShouldEqual, 0.2)
	test.That(t, r.failures[1].Err.Error(), test.ShouldContainSubstring, "bad table")

	s = r.tick(btnB)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.3)
	test.That(t, s.Owner(opY), test.ShouldEqual, operation.InputOwner)
	test.That(t, r.failures[2].Stage, test.ShouldEqual, StageBegin)
	_, held := r.mgr.Holder(opY)
	test.That(t, held, test.ShouldBeFalse)
}

type beginFails struct{ task.Timed }

func (b *beginFails) Begin(env *task.Env) error {
	return errors.New("elevator not homed")
}

func TestMacroToggle(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		return []Description{{
			Name:    "spin",
			Trigger: input.Trigger{Control: btnT, Type: input.Toggle},
			Factory: r.factory("spin", 0, map[operation.ID]float64{opW: 1}),
			Claims:  []operation.ID{opW},
			Resets:  []operation.ID{opZ},
		}}
	})

	s := r.tick(btnT)
	test.That(t, s.GetAnalog(opW), test.ShouldEqual, 1.0)
	r.tick()
	s = r.tick(input.Control{Code: input.ButtonEast})
	test.That(t, r.mgr.Running("spin"), test.ShouldBeTrue)
	test.That(t, s.GetAnalog(opW), test.ShouldEqual, 1.0)
	test.That(t, s.GetDigital(opZ), test.ShouldBeTrue)

	s = r.tick(btnT, input.Control{Code: input.ButtonEast})
	test.That(t, r.mgr.Running("spin"), test.ShouldBeFalse)
	test.That(t, r.log[len(r.log)-1], test.ShouldEqual, "spin.stop")
	test.That(t, s.GetAnalog(opW), test.ShouldEqual, 0.4)
	// the reset set wins over the direct value on the tick the macro ends
	test.That(t, s.GetDigital(opZ), test.ShouldBeFalse)

	s = r.tick(input.Control{Code: input.ButtonEast})
	test.That(t, s.GetDigital(opZ), test.ShouldBeTrue)

	r.tick(btnT)
	test.That(t, r.mgr.Running("spin"), test.ShouldBeTrue)
}

func TestMacroToggleSelfCompletes(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		return []Description{{
			Name:    "pulse",
			Trigger: input.Trigger{Control: btnT, Type: input.Toggle},
			Factory: r.factory("pulse", 2, map[operation.ID]float64{opW: 1}),
			Claims:  []operation.ID{opW},
		}}
	})
	r.tick(btnT)
	r.tick()
	test.That(t, r.mgr.Running("pulse"), test.ShouldBeFalse)
	r.tick()
	test.That(t, r.log, test.ShouldResemble, []string{"pulse.begin", "pulse.update", "pulse.update", "pulse.end"})

	r.tick(btnT)
	test.That(t, r.mgr.Running("pulse"), test.ShouldBeTrue)
}

func TestMacroRetriggerIgnored(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		return []Description{
			clickMacro("a", btnA, r.factory("a", 3, map[operation.ID]float64{opX: 1}), opX),
			{
				Name:    "hold",
				Trigger: input.Trigger{Control: btnB, Type: input.Simple},
				Factory: r.factory("hold", 2, map[operation.ID]float64{opY: 1}),
				Claims:  []operation.ID{opY},
			},
		}
	})
	r.tick(btnA, btnB)
	r.tick(btnB)
	r.tick(btnA, btnB)
	r.tick(btnB)
	test.That(t, r.log, test.ShouldResemble, []string{
		"a.begin", "hold.begin", "a.update", "hold.update",
		"a.update", "hold.update", "hold.end",
		"a.update", "a.end",
	})
	test.That(t, r.mgr.Running("hold"), test.ShouldBeFalse)
}

func TestMacroCancelAppliesResets(t *testing.T) {
	var sc *scripted
	r := newRig(t, Preempt, func(r *rig) []Description {
		return []Description{{
			Name:    "score",
			Trigger: input.Trigger{Control: btnA, Type: input.Click},
			Factory: func() (task.Task, error) {
				sc = r.script("score", 0, map[operation.ID]float64{opX: 1, opY: 1})
				sc.cancelAt = 2
				return sc, nil
			},
			Claims: []operation.ID{opX, opY},
			Resets: []operation.ID{opY, opW},
		}}
	})
	s := r.tick(btnA)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 1.0)
	s = r.tick()
	test.That(t, r.log[len(r.log)-1], test.ShouldEqual, "score.stop")
	test.That(t, s.GetAnalog(opX), test.ShouldEqual, 0.2)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.0)
	test.That(t, s.GetAnalog(opW), test.ShouldEqual, 0.0)
	test.That(t, r.mgr.Active(), test.ShouldBeEmpty)

	s = r.tick()
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.3)
	test.That(t, s.GetAnalog(opW), test.ShouldEqual, 0.4)
}

func TestMacroUpdateErrorReported(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		// writes an operation it never claimed
		return []Description{clickMacro("rogue", btnA, r.factory("rogue", 0, map[operation.ID]float64{opZ: 1}), opX)}
	})
	s := r.tick(btnA)
	test.That(t, r.mgr.Running("rogue"), test.ShouldBeFalse)
	test.That(t, r.failures, test.ShouldHaveLength, 1)
	test.That(t, r.failures[0].Stage, test.ShouldEqual, StageUpdate)
	test.That(t, errors.Is(r.failures[0].Err, operation.ErrNotOwner), test.ShouldBeTrue)
	test.That(t, s.GetAnalog(opX), test.ShouldEqual, 0.2)
}

func TestMacroTriggersDisabled(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		return []Description{clickMacro("a", btnA, r.factory("a", 0, nil), opX)}
	})
	r.triggers = false
	r.tick(btnA)
	test.That(t, r.mgr.Running("a"), test.ShouldBeFalse)
	r.triggers = true
	// still held; Reset forgets it so the held button is a fresh press
	r.mgr.Reset()
	r.tick(btnA)
	test.That(t, r.mgr.Running("a"), test.ShouldBeTrue)
}

func TestLaunchRoutine(t *testing.T) {
	r := newRig(t, Preempt, func(r *rig) []Description {
		return []Description{clickMacro("a", btnA, r.factory("a", 0, nil), opX)}
	})
	r.tick(btnA)

	s := operation.NewState(r.vocab)
	info, err := r.mgr.Launch("auto", r.factory("auto", 0, map[operation.ID]float64{opX: 0.5}), r.vocab.All(), nil, r.now, s)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Kind, test.ShouldEqual, KindRoutine)
	test.That(t, r.mgr.Running("a"), test.ShouldBeFalse)

	r.triggers = false
	s = r.tick()
	test.That(t, s.GetAnalog(opX), test.ShouldEqual, 0.5)
	test.That(t, s.GetAnalog(opY), test.ShouldEqual, 0.0)
	test.That(t, s.Owner(opY), test.ShouldEqual, operation.Owner("routine:auto"))

	s = operation.NewState(r.vocab)
	r.mgr.CancelAll(r.now, s, "disabled")
	test.That(t, r.mgr.Active(), test.ShouldBeEmpty)
	test.That(t, r.log[len(r.log)-1], test.ShouldEqual, "auto.stop")

	_, err = r.mgr.Launch("empty", r.factory("empty", 0, nil), nil, nil, r.now, s)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateDescriptions(t *testing.T) {
	f := func() (task.Task, error) { return task.NewWait(time.Second), nil }
	shifted := input.Condition{Mask: 1, Value: 1}
	unshifted := input.Condition{Mask: 1}

	test.That(t, ValidateDescriptions([]Description{
		{Name: "a", Trigger: input.Trigger{Control: btnA, Condition: shifted}, Factory: f, Claims: []operation.ID{opX}},
		{Name: "b", Trigger: input.Trigger{Control: btnA, Condition: unshifted}, Factory: f, Claims: []operation.ID{opX}},
		{Name: "c", Trigger: input.Trigger{Control: btnA}, Factory: f, Claims: []operation.ID{opY}},
	}), test.ShouldBeNil)

	err := ValidateDescriptions([]Description{
		{Name: "a", Trigger: input.Trigger{Control: btnA}, Factory: f, Claims: []operation.ID{opX, opY}},
		{Name: "b", Trigger: input.Trigger{Control: btnA, Condition: shifted}, Factory: f, Claims: []operation.ID{opY}},
		{Name: "b", Trigger: input.Trigger{Control: btnB}, Claims: nil},
		{Name: "", Trigger: input.Trigger{Control: stickY}, Factory: f, Claims: []operation.ID{opZ}},
	})
	test.That(t, err, test.ShouldNotBeNil)
	for _, want := range []string{
		`share a trigger and both claim elevator.speed`,
		`macro "b" declared more than once`,
		`macro "b" claims no operations`,
		`macro "b" has no task`,
		"has no name",
		"is not a button",
	} {
		test.That(t, err.Error(), test.ShouldContainSubstring, want)
	}

	p, err := ParseOverlapPolicy("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, Preempt)
	_, err = ParseOverlapPolicy("newest")
	test.That(t, err, test.ShouldNotBeNil)
}
