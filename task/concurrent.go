package task

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Policy decides when a Concurrent task completes.
type Policy uint8

const (
	// All completes once every child has completed.
	All Policy = iota
	// Any completes as soon as one child completes and cancels the rest.
	Any
)

func (p Policy) String() string {
	if p == Any {
		return "any"
	}
	return "all"
}

// ParsePolicy parses "all" or "any".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "all":
		return All, nil
	case "any":
		return Any, nil
	}
	return 0, errors.Errorf("unknown completion policy %q", s)
}

// Concurrent ticks every incomplete child each tick. A cancelled child cancels the whole group.
type Concurrent struct {
	policy   Policy
	children []*Runner
	done     bool
	cancel   bool
}

// NewConcurrent returns a concurrent group.
func NewConcurrent(policy Policy, children ...Task) *Concurrent {
	c := &Concurrent{policy: policy}
	for _, t := range children {
		c.children = append(c.children, NewRunner(t))
	}
	return c
}

// Begin implements Task. If any child fails to begin, the children already begun are stopped.
func (c *Concurrent) Begin(env *Env) error {
	for i, child := range c.children {
		if err := child.Begin(env); err != nil {
			for _, begun := range c.children[:i] {
				err = multierr.Append(err, begun.Stop(env))
			}
			return errors.Wrapf(err, "child %d", i)
		}
	}
	if len(c.children) == 0 {
		c.done = true
	}
	return nil
}

// Update implements Task.
func (c *Concurrent) Update(env *Env) error {
	var errs error
	anyDone := false
	for _, child := range c.children {
		if child.State() != Running {
			continue
		}
		state, err := child.Update(env)
		errs = multierr.Append(errs, err)
		switch state {
		case Cancelled:
			c.cancel = true
		case Completed:
			anyDone = true
			if c.policy == All {
				errs = multierr.Append(errs, child.End(env))
			}
		case Created, Running, Ended:
		}
	}
	if errs != nil || c.cancel {
		return errs
	}
	switch c.policy {
	case Any:
		if anyDone {
			c.done = true
			errs = c.finishChildren(env)
		}
	case All:
		c.done = true
		for _, child := range c.children {
			if child.State() != Ended {
				c.done = false
			}
		}
	}
	return errs
}

// finishChildren ends completed children and stops the rest.
func (c *Concurrent) finishChildren(env *Env) error {
	var errs error
	for _, child := range c.children {
		if child.State() == Completed {
			errs = multierr.Append(errs, child.End(env))
		} else {
			errs = multierr.Append(errs, child.Stop(env))
		}
	}
	return errs
}

// End implements Task.
func (c *Concurrent) End(env *Env) error {
	var errs error
	for _, child := range c.children {
		errs = multierr.Append(errs, child.End(env))
	}
	return errs
}

// Stop implements Task. Children that already ended are left alone.
func (c *Concurrent) Stop(env *Env) error {
	var errs error
	for _, child := range c.children {
		errs = multierr.Append(errs, child.Stop(env))
	}
	return errs
}

// HasCompleted implements Task.
func (c *Concurrent) HasCompleted() bool {
	return c.done
}

// ShouldCancel implements Task.
func (c *Concurrent) ShouldCancel() bool {
	return c.cancel
}
