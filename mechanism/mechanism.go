// Package mechanism defines what the engine needs from hardware modules: they read operations
// from the bus and drive actuators.
package mechanism

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.opcore.dev/opcore/operation"
	"go.opcore.dev/opcore/utils"
)

// Mechanism is a hardware module driven by operations.
type Mechanism interface {
	Name() string
	// SetActiveCommandSource points the mechanism at the source it reads operations from.
	SetActiveCommandSource(src operation.Source)
	// ReadSensors snapshots sensors once per tick before scheduling.
	ReadSensors(ctx context.Context) error
	// Update acts on the published operations once per tick.
	Update(ctx context.Context) error
	// Stop zeroes every output.
	Stop(ctx context.Context) error
}

// SensorReader is implemented by mechanisms that expose the sensor snapshot from their last
// ReadSensors call. Values must not change between ReadSensors calls.
type SensorReader interface {
	Readings() map[string]float64
}

// Set is the fixed collection of mechanisms on a robot.
type Set struct {
	ordered []Mechanism
	byName  map[string]Mechanism
}

// NewSet builds a set, rejecting duplicate names.
func NewSet(mechanisms ...Mechanism) (*Set, error) {
	s := &Set{byName: make(map[string]Mechanism, len(mechanisms))}
	for _, m := range mechanisms {
		if m == nil {
			return nil, errors.New("nil mechanism")
		}
		if _, ok := s.byName[m.Name()]; ok {
			return nil, errors.Errorf("mechanism %q registered more than once", m.Name())
		}
		s.byName[m.Name()] = m
		s.ordered = append(s.ordered, m)
	}
	return s, nil
}

// All returns the mechanisms in registration order.
func (s *Set) All() []Mechanism {
	if s == nil {
		return nil
	}
	return append([]Mechanism(nil), s.ordered...)
}

// Names returns the mechanism names, sorted.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a mechanism by name.
func (s *Set) Lookup(name string) (Mechanism, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.byName[name]
	return m, ok
}

// SetActiveCommandSource points every mechanism at src.
func (s *Set) SetActiveCommandSource(src operation.Source) {
	for _, m := range s.All() {
		m.SetActiveCommandSource(src)
	}
}

// ReadSensors reads every mechanism's sensors. A failing mechanism does not keep the others
// from reading.
func (s *Set) ReadSensors(ctx context.Context) error {
	var errs error
	for _, m := range s.All() {
		errs = multierr.Append(errs, errors.Wrapf(m.ReadSensors(ctx), "mechanism %q", m.Name()))
	}
	return errs
}

// Update updates every mechanism.
func (s *Set) Update(ctx context.Context) error {
	var errs error
	for _, m := range s.All() {
		errs = multierr.Append(errs, errors.Wrapf(m.Update(ctx), "mechanism %q", m.Name()))
	}
	return errs
}

// StopAll stops every mechanism, even when some fail.
func (s *Set) StopAll(ctx context.Context) error {
	var errs error
	for _, m := range s.All() {
		errs = multierr.Append(errs, errors.Wrapf(m.Stop(ctx), "stopping mechanism %q", m.Name()))
	}
	return errs
}

// Lookup finds the named mechanism and asserts it to T.
func Lookup[T any](s *Set, name string) (T, error) {
	m, ok := s.Lookup(name)
	if !ok {
		var zero T
		return zero, utils.NewNotFoundError("mechanism", name)
	}
	return utils.AssertType[T](m)
}

// FindByType returns every mechanism implementing T, in registration order.
func FindByType[T any](s *Set) []T {
	var out []T
	for _, m := range s.All() {
		if t, ok := m.(T); ok {
			out = append(out, t)
		}
	}
	return out
}
