// Package macro runs button-triggered task trees that temporarily own a set of operations.
package macro

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/operation"
	"go.opcore.dev/opcore/task"
)

// Description binds a trigger to a task factory and the operations the macro drives.
type Description struct {
	Name    string
	Trigger input.Trigger
	Factory task.Factory
	// Claims are driven exclusively by the macro while it runs.
	Claims []operation.ID
	// Resets are forced neutral on the tick the macro ends.
	Resets []operation.ID
}

// Owner is the operation owner used by activations of the macro.
func (d Description) Owner() operation.Owner {
	return operation.Owner("macro:" + d.Name)
}

// ValidateDescriptions rejects unnamed, duplicate or claimless macros, and pairs of macros
// that can trigger on the same tick while claiming a common operation.
func ValidateDescriptions(descs []Description) error {
	var errs error
	seen := map[string]struct{}{}
	for i, d := range descs {
		if d.Name == "" {
			errs = multierr.Append(errs, errors.Errorf("macro %d has no name", i))
		}
		if _, ok := seen[d.Name]; ok {
			errs = multierr.Append(errs, errors.Errorf("macro %q declared more than once", d.Name))
		}
		seen[d.Name] = struct{}{}
		if len(d.Claims) == 0 {
			errs = multierr.Append(errs, errors.Errorf("macro %q claims no operations", d.Name))
		}
		if d.Factory == nil {
			errs = multierr.Append(errs, errors.Errorf("macro %q has no task", d.Name))
		}
		if !d.Trigger.Control.Code.IsButton() {
			errs = multierr.Append(errs, errors.Errorf("macro %q trigger %s is not a button", d.Name, d.Trigger.Control))
		}
		for j := i + 1; j < len(descs); j++ {
			o := descs[j]
			if !d.Trigger.Overlaps(o.Trigger) {
				continue
			}
			if common := lo.Intersect(d.Claims, o.Claims); len(common) > 0 {
				errs = multierr.Append(errs, errors.Errorf(
					"macros %q and %q share a trigger and both claim %s",
					d.Name, o.Name, strings.Join(operation.Names(common), ", ")))
			}
		}
	}
	return errs
}

// OverlapPolicy decides what happens when a new activation claims an operation a running one
// holds.
type OverlapPolicy uint8

const (
	// Preempt ends the running activation. This is the default.
	Preempt OverlapPolicy = iota
	// Keep refuses the new activation.
	Keep
)

func (p OverlapPolicy) String() string {
	if p == Keep {
		return "keep"
	}
	return "preempt"
}

// ParseOverlapPolicy parses "preempt" or "keep". The empty string is Preempt.
func ParseOverlapPolicy(s string) (OverlapPolicy, error) {
	switch strings.ToLower(s) {
	case "", "preempt":
		return Preempt, nil
	case "keep":
		return Keep, nil
	}
	return 0, errors.Errorf("unknown overlap policy %q", s)
}
