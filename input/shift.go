package input

import (
	"sort"

	"github.com/pkg/errors"
)

// MaxShifts is the number of distinct shifts a ShiftSet can hold.
const MaxShifts = 32

// Shift is a named modifier that is active while its button is held.
type Shift struct {
	Name    string
	Bit     uint
	Control Control
}

// ShiftSet is a bit set of shifts.
type ShiftSet uint32

// Has reports whether bit is set.
func (s ShiftSet) Has(bit uint) bool {
	return s&(1<<bit) != 0
}

// With returns s with bit set.
func (s ShiftSet) With(bit uint) ShiftSet {
	return s | 1<<bit
}

// Condition selects the shift states under which a mapping applies: restricted to Mask, the
// held set must equal Value. An empty mask matches any shift state.
type Condition struct {
	Mask  ShiftSet
	Value ShiftSet
}

// Matches reports whether the condition holds for the held shifts.
func (c Condition) Matches(held ShiftSet) bool {
	return held&c.Mask == c.Value&c.Mask
}

// Overlaps reports whether some held set satisfies both conditions.
func (c Condition) Overlaps(o Condition) bool {
	common := c.Mask & o.Mask
	return (c.Value^o.Value)&common == 0
}

// Select returns the index of the condition matching held. Configuration validation
// guarantees at most one candidate per control can match.
func Select(held ShiftSet, conds []Condition) (int, bool) {
	for i, c := range conds {
		if c.Matches(held) {
			return i, true
		}
	}
	return -1, false
}

// Dispatcher tracks the shift definitions and the set held on the last tick.
type Dispatcher struct {
	shifts []Shift
	byName map[string]Shift
	last   ShiftSet
}

// NewDispatcher validates shift definitions and returns a dispatcher.
func NewDispatcher(shifts []Shift) (*Dispatcher, error) {
	if len(shifts) > MaxShifts {
		return nil, errors.Errorf("at most %d shifts are supported, got %d", MaxShifts, len(shifts))
	}
	d := &Dispatcher{byName: make(map[string]Shift, len(shifts))}
	bits := map[uint]string{}
	for _, s := range shifts {
		if s.Name == "" {
			return nil, errors.New("shift has no name")
		}
		if _, ok := d.byName[s.Name]; ok {
			return nil, errors.Errorf("shift %q declared more than once", s.Name)
		}
		if s.Bit >= MaxShifts {
			return nil, errors.Errorf("shift %q bit %d out of range", s.Name, s.Bit)
		}
		if other, ok := bits[s.Bit]; ok {
			return nil, errors.Errorf("shifts %q and %q share bit %d", other, s.Name, s.Bit)
		}
		if !s.Control.Code.IsButton() {
			return nil, errors.Errorf("shift %q must be held on a button, not %s", s.Name, s.Control)
		}
		bits[s.Bit] = s.Name
		d.byName[s.Name] = s
		d.shifts = append(d.shifts, s)
	}
	return d, nil
}

// Held computes the shifts held in a frame and remembers them as the last held set.
func (d *Dispatcher) Held(f Frame) ShiftSet {
	var held ShiftSet
	for _, s := range d.shifts {
		if f.Button(s.Control) {
			held = held.With(s.Bit)
		}
	}
	d.last = held
	return held
}

// Last returns the set computed by the previous Held call.
func (d *Dispatcher) Last() ShiftSet {
	return d.last
}

// Reset forgets the last held set.
func (d *Dispatcher) Reset() {
	d.last = 0
}

// Shift looks a shift up by name.
func (d *Dispatcher) Shift(name string) (Shift, bool) {
	s, ok := d.byName[name]
	return s, ok
}

// Names returns the names of the shifts in s, sorted.
func (d *Dispatcher) Names(s ShiftSet) []string {
	var names []string
	for _, sh := range d.shifts {
		if s.Has(sh.Bit) {
			names = append(names, sh.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Condition builds a condition from shift names mapped to whether they must be held. Shifts
// not named are ignored.
func (d *Dispatcher) Condition(required map[string]bool) (Condition, error) {
	var c Condition
	for name, held := range required {
		s, ok := d.byName[name]
		if !ok {
			return Condition{}, errors.Errorf("unknown shift %q", name)
		}
		c.Mask = c.Mask.With(s.Bit)
		if held {
			c.Value = c.Value.With(s.Bit)
		}
	}
	return c, nil
}
