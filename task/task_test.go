package task

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/operation"
)

var (
	opLift  = operation.NewAnalog("elevator", "speed")
	opClamp = operation.NewDigital("grabber", "clamp")
	opSpin  = operation.NewAnalog("intake", "spin")
)

func testVocab() *operation.Vocabulary {
	return operation.MustVocabulary(
		operation.Definition{ID: opLift},
		operation.Definition{ID: opClamp},
		operation.Definition{ID: opSpin},
	)
}

// probe records its lifecycle calls into a shared log.
type probe struct {
	name       string
	ticks      int
	cancelAt   int
	updateErr  error
	panicBegin bool

	updates int
	log     *[]string
}

func newProbe(log *[]string, name string, ticks int) *probe {
	return &probe{name: name, ticks: ticks, log: log}
}

func (p *probe) record(what string) {
	*p.log = append(*p.log, p.name+"."+what)
}

func (p *probe) Begin(env *Env) error {
	if p.panicBegin {
		panic("no hardware")
	}
	p.record("begin")
	return nil
}

func (p *probe) Update(env *Env) error {
	p.updates++
	p.record("update")
	return p.updateErr
}

func (p *probe) End(env *Env) error {
	p.record("end")
	return nil
}

func (p *probe) Stop(env *Env) error {
	p.record("stop")
	return nil
}

func (p *probe) HasCompleted() bool { return p.updates >= p.ticks }

func (p *probe) ShouldCancel() bool { return p.cancelAt > 0 && p.updates >= p.cancelAt }

type clockedEnv struct {
	env   *Env
	state *operation.State
}

func newEnv(t *testing.T, owner operation.Owner) *clockedEnv {
	state := operation.NewState(testVocab())
	return &clockedEnv{
		env:   &Env{Now: time.Unix(100, 0), Ops: state.Writer(owner), Logger: logging.NewTestLogger(t)},
		state: state,
	}
}

func (c *clockedEnv) advance(d time.Duration) *Env {
	c.env.Now = c.env.Now.Add(d)
	return c.env
}

// runTicks begins r and updates it until it leaves Running, returning the tick count.
func runTicks(t *testing.T, r *Runner, env *Env, limit int) int {
	t.Helper()
	test.That(t, r.Begin(env), test.ShouldBeNil)
	for tick := 1; tick <= limit; tick++ {
		state, err := r.Update(env)
		test.That(t, err, test.ShouldBeNil)
		if state != Running {
			return tick
		}
	}
	return -1
}

func TestRunnerLifecycle(t *testing.T) {
	env := newEnv(t, operation.InputOwner).env
	var log []string

	r := NewRunner(newProbe(&log, "a", 2))
	_, err := r.Update(env)
	test.That(t, errors.Is(err, ErrNotRunning), test.ShouldBeTrue)
	test.That(t, log, test.ShouldBeEmpty)

	test.That(t, runTicks(t, r, env, 10), test.ShouldEqual, 2)
	test.That(t, r.State(), test.ShouldEqual, Completed)
	test.That(t, r.End(env), test.ShouldBeNil)
	test.That(t, r.Stop(env), test.ShouldBeNil)
	test.That(t, r.State(), test.ShouldEqual, Ended)
	_, err = r.Update(env)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, log, test.ShouldResemble, []string{"a.begin", "a.update", "a.update", "a.end"})
	test.That(t, r.Begin(env), test.ShouldNotBeNil)

	t.Run("panicking begin", func(t *testing.T) {
		p := newProbe(&log, "b", 1)
		p.panicBegin = true
		r := NewRunner(p)
		err := r.Begin(env)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no hardware")
		test.That(t, r.State(), test.ShouldEqual, Ended)
		test.That(t, r.Err(), test.ShouldEqual, err)
	})

	t.Run("update error cancels", func(t *testing.T) {
		p := newProbe(&log, "c", 5)
		p.updateErr = errors.New("encoder lost")
		r := NewRunner(p)
		test.That(t, runTicks(t, r, env, 10), test.ShouldEqual, 1)
		test.That(t, r.State(), test.ShouldEqual, Cancelled)
		test.That(t, r.Err().Error(), test.ShouldEqual, "encoder lost")
	})

	t.Run("cancel wins over completion", func(t *testing.T) {
		p := newProbe(&log, "d", 1)
		p.cancelAt = 1
		r := NewRunner(p)
		runTicks(t, r, env, 10)
		test.That(t, r.State(), test.ShouldEqual, Cancelled)
	})

	t.Run("never begun", func(t *testing.T) {
		log = nil
		r := NewRunner(newProbe(&log, "e", 1))
		test.That(t, r.Stop(env), test.ShouldBeNil)
		test.That(t, r.State(), test.ShouldEqual, Ended)
		test.That(t, log, test.ShouldBeEmpty)
	})
}

func TestBuild(t *testing.T) {
	_, err := Build(nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Build(func() (Task, error) { panic("bad table") })
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad table")
	_, err = Build(func() (Task, error) { return nil, nil })
	test.That(t, err, test.ShouldNotBeNil)
	got, err := Build(func() (Task, error) { return NewWait(time.Second), nil })
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldNotBeNil)
}

func TestSequentialOrdering(t *testing.T) {
	env := newEnv(t, operation.InputOwner).env
	var log []string
	seq := NewSequential(newProbe(&log, "a", 1), newProbe(&log, "b", 1), newProbe(&log, "c", 1))
	r := NewRunner(seq)

	test.That(t, runTicks(t, r, env, 10), test.ShouldEqual, 3)
	test.That(t, r.State(), test.ShouldEqual, Completed)
	test.That(t, r.End(env), test.ShouldBeNil)
	test.That(t, log, test.ShouldResemble, []string{
		"a.begin", "a.update", "a.end",
		"b.begin", "b.update", "b.end",
		"c.begin", "c.update", "c.end",
	})
}

func TestSequentialStopOnlyCurrent(t *testing.T) {
	env := newEnv(t, operation.InputOwner).env
	var log []string
	seq := NewSequential(newProbe(&log, "a", 1), newProbe(&log, "b", 5), newProbe(&log, "c", 1))
	r := NewRunner(seq)
	test.That(t, r.Begin(env), test.ShouldBeNil)
	for i := 0; i < 2; i++ {
		_, err := r.Update(env)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, seq.Current(), test.ShouldEqual, 1)
	test.That(t, r.Stop(env), test.ShouldBeNil)
	test.That(t, log, test.ShouldResemble, []string{
		"a.begin", "a.update", "a.end", "b.begin", "b.update", "b.stop",
	})
}

func TestSequentialChildCancel(t *testing.T) {
	env := newEnv(t, operation.InputOwner).env
	var log []string
	b := newProbe(&log, "b", 5)
	b.cancelAt = 2
	r := NewRunner(NewSequential(newProbe(&log, "a", 1), b))
	test.That(t, runTicks(t, r, env, 10), test.ShouldEqual, 3)
	test.That(t, r.State(), test.ShouldEqual, Cancelled)
	test.That(t, r.Stop(env), test.ShouldBeNil)
	test.That(t, log[len(log)-1], test.ShouldEqual, "b.stop")
}

func TestConcurrentAny(t *testing.T) {
	env := newEnv(t, operation.InputOwner).env
	var log []string
	short, long := newProbe(&log, "short", 3), newProbe(&log, "long", 10)
	r := NewRunner(NewConcurrent(Any, short, long))

	test.That(t, runTicks(t, r, env, 20), test.ShouldEqual, 3)
	test.That(t, r.State(), test.ShouldEqual, Completed)
	test.That(t, log[len(log)-2:], test.ShouldResemble, []string{"short.end", "long.stop"})
	test.That(t, long.updates, test.ShouldEqual, 3)

	log = nil
	test.That(t, r.End(env), test.ShouldBeNil)
	test.That(t, log, test.ShouldBeEmpty)
	test.That(t, long.updates, test.ShouldEqual, 3)
}

func TestConcurrentAll(t *testing.T) {
	env := newEnv(t, operation.InputOwner).env
	var log []string
	quick, slow := newProbe(&log, "quick", 1), newProbe(&log, "slow", 3)
	r := NewRunner(NewConcurrent(All, quick, slow))

	test.That(t, runTicks(t, r, env, 20), test.ShouldEqual, 3)
	test.That(t, quick.updates, test.ShouldEqual, 1)
	test.That(t, slow.updates, test.ShouldEqual, 3)
	test.That(t, log, test.ShouldResemble, []string{
		"quick.begin", "slow.begin",
		"quick.update", "quick.end", "slow.update",
		"slow.update",
		"slow.update", "slow.end",
	})
}

func TestConcurrentCancel(t *testing.T) {
	env := newEnv(t, operation.InputOwner).env
	var log []string
	flaky := newProbe(&log, "flaky", 10)
	flaky.cancelAt = 2
	done := newProbe(&log, "done", 1)
	other := newProbe(&log, "other", 10)
	r := NewRunner(NewConcurrent(All, done, flaky, other))

	test.That(t, runTicks(t, r, env, 20), test.ShouldEqual, 2)
	test.That(t, r.State(), test.ShouldEqual, Cancelled)
	log = nil
	test.That(t, r.Stop(env), test.ShouldBeNil)
	test.That(t, log, test.ShouldResemble, []string{"flaky.stop", "other.stop"})
}

func TestConcurrentBeginFailure(t *testing.T) {
	env := newEnv(t, operation.InputOwner).env
	var log []string
	bad := newProbe(&log, "bad", 1)
	bad.panicBegin = true
	r := NewRunner(NewConcurrent(Any, newProbe(&log, "good", 1), bad))
	test.That(t, r.Begin(env), test.ShouldNotBeNil)
	test.That(t, log, test.ShouldResemble, []string{"good.begin", "good.stop"})
	test.That(t, r.State(), test.ShouldEqual, Ended)
}

func TestTimed(t *testing.T) {
	ce := newEnv(t, operation.InputOwner)
	timed := NewTimed(100*time.Millisecond, map[operation.ID]float64{opLift: 0.5, opClamp: 1})
	r := NewRunner(timed)
	test.That(t, r.Begin(ce.env), test.ShouldBeNil)

	ticks := 0
	for r.State() == Running {
		ticks++
		_, err := r.Update(ce.advance(20 * time.Millisecond))
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, ticks, test.ShouldEqual, 5)
	test.That(t, timed.Elapsed(), test.ShouldEqual, 100*time.Millisecond)
	test.That(t, ce.state.GetAnalog(opLift), test.ShouldEqual, 0.5)
	test.That(t, ce.state.GetDigital(opClamp), test.ShouldBeTrue)
}

func TestTimedWritesUnclaimedOperation(t *testing.T) {
	ce := newEnv(t, "macro:score")
	test.That(t, ce.state.Claim("macro:score", []operation.ID{opLift}), test.ShouldBeNil)
	r := NewRunner(NewTimed(time.Second, map[operation.ID]float64{opSpin: 1}))
	test.That(t, runTicks(t, r, ce.env, 3), test.ShouldEqual, 1)
	test.That(t, r.State(), test.ShouldEqual, Cancelled)
	test.That(t, errors.Is(r.Err(), operation.ErrNotOwner), test.ShouldBeTrue)
}

type readings map[string]float64

func (r readings) Readings() map[string]float64 { return r }

func TestOperationTask(t *testing.T) {
	allowed := []operation.ID{opLift, opClamp}
	_, err := NewOperationTask(allowed, opSpin, 1, time.Second)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not one of")
	_, err = NewOperationTask(allowed, opLift, 1, 0)
	test.That(t, err, test.ShouldNotBeNil)

	t.Run("times out", func(t *testing.T) {
		ce := newEnv(t, operation.InputOwner)
		task, err := NewOperationTask(allowed, opClamp, 0, 50*time.Millisecond)
		test.That(t, err, test.ShouldBeNil)
		r := NewRunner(task)
		test.That(t, r.Begin(ce.env), test.ShouldBeNil)
		_, err = r.Update(ce.advance(20 * time.Millisecond))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ce.state.GetDigital(opClamp), test.ShouldBeTrue)
		r.Update(ce.advance(20 * time.Millisecond))
		test.That(t, r.State(), test.ShouldEqual, Running)
		r.Update(ce.advance(20 * time.Millisecond))
		test.That(t, r.State(), test.ShouldEqual, Completed)
		test.That(t, r.End(ce.env), test.ShouldBeNil)
		test.That(t, ce.state.GetDigital(opClamp), test.ShouldBeFalse)
	})

	t.Run("until reading", func(t *testing.T) {
		ce := newEnv(t, operation.InputOwner)
		sensor := readings{"height": 0.2}
		task, err := NewOperationTask(allowed, opLift, 0.8, time.Second)
		test.That(t, err, test.ShouldBeNil)
		task.Until = SensorCondition{Reader: sensor, Reading: "height", Target: 1, Tolerance: 0.05}
		r := NewRunner(task)
		test.That(t, r.Begin(ce.env), test.ShouldBeNil)
		r.Update(ce.advance(20 * time.Millisecond))
		test.That(t, r.State(), test.ShouldEqual, Running)
		test.That(t, ce.state.GetAnalog(opLift), test.ShouldEqual, 0.8)
		sensor["height"] = 0.97
		r.Update(ce.advance(20 * time.Millisecond))
		test.That(t, r.State(), test.ShouldEqual, Completed)
		test.That(t, ce.state.GetAnalog(opLift), test.ShouldEqual, 0.0)
	})

	t.Run("missing reading cancels", func(t *testing.T) {
		ce := newEnv(t, operation.InputOwner)
		task, err := NewOperationTask(nil, opLift, 0.8, time.Second)
		test.That(t, err, test.ShouldBeNil)
		task.Until = SensorCondition{Reader: readings{}, Reading: "height", Target: 1}
		r := NewRunner(task)
		test.That(t, runTicks(t, r, ce.env, 5), test.ShouldEqual, 1)
		test.That(t, r.State(), test.ShouldEqual, Cancelled)
		test.That(t, r.Stop(ce.env), test.ShouldBeNil)
		test.That(t, ce.state.GetAnalog(opLift), test.ShouldEqual, 0.0)
	})
}

func TestPolicyAndState(t *testing.T) {
	p, err := ParsePolicy("ANY")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, Any)
	test.That(t, p.String(), test.ShouldEqual, "any")
	_, err = ParsePolicy("first")
	test.That(t, err, test.ShouldNotBeNil)

	for s := Created; s <= Ended; s++ {
		test.That(t, s.String(), test.ShouldNotContainSubstring, "State(")
	}
	test.That(t, fmt.Sprint(State(9)), test.ShouldEqual, "State(9)")
	test.That(t, Ended.Terminal(), test.ShouldBeTrue)
	test.That(t, isAllowedTransition(Completed, Running), test.ShouldBeFalse)
}
