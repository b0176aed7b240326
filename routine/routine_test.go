package routine

import (
	"testing"
	"time"

	"go.viam.com/test"

	"go.opcore.dev/opcore/task"
)

func wait() (task.Task, error) {
	return task.NewWait(time.Second), nil
}

func TestChooser(t *testing.T) {
	c, err := NewChooser("cross line", Routine{Name: "cross line", Factory: wait}, Routine{Name: "two piece", Factory: wait})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Names(), test.ShouldResemble, []string{"cross line", "two piece"})

	r, err := c.SelectRoutine()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Name, test.ShouldEqual, "cross line")

	test.That(t, c.Select("two piece"), test.ShouldBeNil)
	r, err = c.SelectRoutine()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Name, test.ShouldEqual, "two piece")

	err = c.Select("three piece")
	test.That(t, err.Error(), test.ShouldContainSubstring, `routine "three piece" not found`)
	test.That(t, c.Selected(), test.ShouldEqual, "two piece")
}

func TestNewChooserErrors(t *testing.T) {
	_, err := NewChooser("missing", Routine{Name: "a", Factory: wait})
	test.That(t, err.Error(), test.ShouldContainSubstring, "default routine")
	_, err = NewChooser("a", Routine{Name: "a", Factory: wait}, Routine{Name: "a", Factory: wait})
	test.That(t, err.Error(), test.ShouldContainSubstring, "more than once")
	_, err = NewChooser("a", Routine{Name: "a"})
	test.That(t, err.Error(), test.ShouldContainSubstring, "no task")
}
