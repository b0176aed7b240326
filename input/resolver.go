package input

import (
	"sort"

	"go.uber.org/multierr"

	"go.opcore.dev/opcore/operation"
)

type digitalEntry struct {
	mapping DigitalMapping
	tracker *ButtonTracker
}

// Resolver computes the direct value of every mapped operation from a frame.
type Resolver struct {
	dispatcher *Dispatcher
	// digital entries grouped per operation, in mapping order.
	byOperation map[operation.ID][]*digitalEntry
	opOrder     []operation.ID
	entries     []*digitalEntry
	analog      []AnalogMapping
}

// NewResolver validates the mapping tables and returns a resolver.
func NewResolver(d *Dispatcher, digital []DigitalMapping, analog []AnalogMapping) (*Resolver, error) {
	if err := multierr.Combine(ValidateDigital(digital), ValidateAnalog(analog)); err != nil {
		return nil, err
	}
	r := &Resolver{
		dispatcher:  d,
		byOperation: map[operation.ID][]*digitalEntry{},
		analog:      append([]AnalogMapping(nil), analog...),
	}
	for _, m := range digital {
		e := &digitalEntry{mapping: m, tracker: NewButtonTracker(m.Type)}
		if _, ok := r.byOperation[m.Operation]; !ok {
			r.opOrder = append(r.opOrder, m.Operation)
		}
		r.byOperation[m.Operation] = append(r.byOperation[m.Operation], e)
		r.entries = append(r.entries, e)
	}
	sort.Slice(r.opOrder, func(i, j int) bool { return r.opOrder[i].String() < r.opOrder[j].String() })
	return r, nil
}

// Operations returns every operation some mapping drives.
func (r *Resolver) Operations() []operation.ID {
	ops := append([]operation.ID(nil), r.opOrder...)
	for _, m := range r.analog {
		ops = append(ops, m.Operation)
	}
	return ops
}

// Resolve writes the value of each mapped operation through w. Every tracker sees the frame,
// but an operation takes its value only from the mapping whose shift condition holds; with none
// holding the operation is left neutral.
func (r *Resolver) Resolve(f Frame, held ShiftSet, w operation.Writer) error {
	var errs error
	for _, id := range r.opOrder {
		var (
			value bool
			found bool
		)
		for _, e := range r.byOperation[id] {
			active := e.mapping.Condition.Matches(held)
			v := e.tracker.Update(e.mapping.Raw(f), active)
			if active && !found {
				value, found = v, true
			}
		}
		if found {
			errs = multierr.Append(errs, w.SetDigital(id, value))
		}
	}
	for _, m := range r.analog {
		errs = multierr.Append(errs, w.SetAnalog(m.Operation, m.Apply(f.Axis(m.Control))))
	}
	return errs
}

// Reset clears every tracker.
func (r *Resolver) Reset() {
	for _, e := range r.entries {
		e.tracker.Reset()
	}
}
