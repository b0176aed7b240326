package task

import (
	"github.com/pkg/errors"
)

// Sequential runs children one after another. Only the current child is ticked; the next
// child begins on the tick the current one completes and is first updated on the tick after.
type Sequential struct {
	children []*Runner
	current  int
	cancel   bool
}

// NewSequential returns a sequence over children.
func NewSequential(children ...Task) *Sequential {
	s := &Sequential{}
	for _, c := range children {
		s.children = append(s.children, NewRunner(c))
	}
	return s
}

// Current returns the index of the running child.
func (s *Sequential) Current() int {
	return s.current
}

// Begin implements Task.
func (s *Sequential) Begin(env *Env) error {
	if len(s.children) == 0 {
		return nil
	}
	return errors.Wrap(s.children[0].Begin(env), "child 0")
}

// Update implements Task.
func (s *Sequential) Update(env *Env) error {
	if s.current >= len(s.children) {
		return nil
	}
	child := s.children[s.current]
	state, err := child.Update(env)
	if err != nil {
		return err
	}
	switch state {
	case Cancelled:
		s.cancel = true
		return nil
	case Completed:
		if err := child.End(env); err != nil {
			return errors.Wrapf(err, "ending child %d", s.current)
		}
		s.current++
		if s.current < len(s.children) {
			return errors.Wrapf(s.children[s.current].Begin(env), "child %d", s.current)
		}
	case Created, Running, Ended:
	}
	return nil
}

// End implements Task.
func (s *Sequential) End(env *Env) error {
	if s.current >= len(s.children) {
		return nil
	}
	return s.children[s.current].End(env)
}

// Stop implements Task. Only the current child is stopped; completed children have ended and
// later ones never began.
func (s *Sequential) Stop(env *Env) error {
	if s.current >= len(s.children) {
		return nil
	}
	return s.children[s.current].Stop(env)
}

// HasCompleted implements Task.
func (s *Sequential) HasCompleted() bool {
	return s.current >= len(s.children)
}

// ShouldCancel implements Task.
func (s *Sequential) ShouldCancel() bool {
	return s.cancel
}
