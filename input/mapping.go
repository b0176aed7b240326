package input

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.opcore.dev/opcore/operation"
)

// ButtonType selects how a button's raw level becomes a logical value.
type ButtonType uint8

const (
	// Simple follows the raw level.
	Simple ButtonType = iota
	// Click is true only on the tick the button goes down.
	Click
	// Toggle flips on every press and holds its value between presses.
	Toggle
)

func (b ButtonType) String() string {
	switch b {
	case Simple:
		return "simple"
	case Click:
		return "click"
	case Toggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// ParseButtonType parses "simple", "click" or "toggle". The empty string is Simple.
func ParseButtonType(s string) (ButtonType, error) {
	switch strings.ToLower(s) {
	case "", "simple":
		return Simple, nil
	case "click":
		return Click, nil
	case "toggle":
		return Toggle, nil
	}
	return 0, errors.Errorf("unknown button type %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ButtonType) UnmarshalText(text []byte) error {
	t, err := ParseButtonType(string(text))
	if err != nil {
		return err
	}
	*b = t
	return nil
}

// Trigger is a button under a shift condition, interpreted through a ButtonType.
type Trigger struct {
	Control   Control
	Invert    bool
	Type      ButtonType
	Condition Condition
}

// Raw returns the trigger's level in f after inversion.
func (t Trigger) Raw(f Frame) bool {
	return f.Button(t.Control) != t.Invert
}

// Overlaps reports whether two triggers can fire on the same tick.
func (t Trigger) Overlaps(o Trigger) bool {
	return t.Control == o.Control && t.Condition.Overlaps(o.Condition)
}

// DigitalMapping drives a digital operation from a button.
type DigitalMapping struct {
	Operation operation.ID
	Trigger
}

// AnalogMapping drives an analog operation from an axis.
type AnalogMapping struct {
	Operation operation.ID
	Control   Control
	Invert    bool
	// Deadzone is the radius around zero that reads as zero, in [0, 1).
	Deadzone float64
}

// Apply conditions a raw axis reading: inversion first, then the deadzone.
func (m AnalogMapping) Apply(raw float64) float64 {
	v := raw
	if m.Invert {
		v = -v
	}
	return Deadband(v, m.Deadzone)
}

// Deadband zeroes v when it lies within radius of zero. It is idempotent.
func Deadband(v, radius float64) float64 {
	if math.Abs(v) <= radius {
		return 0
	}
	return v
}

// ValidateDigital rejects mapping tables where a button press could resolve to more than one
// mapping, or an operation could be written by two mappings on one tick.
func ValidateDigital(mappings []DigitalMapping) error {
	var errs error
	for i, a := range mappings {
		if a.Operation.Kind != operation.Digital {
			errs = multierr.Append(errs, errors.Errorf("mapping %d: %q is not digital", i, a.Operation))
		}
		if !a.Control.Code.IsButton() {
			errs = multierr.Append(errs, errors.Errorf("mapping %d: %s is not a button", i, a.Control))
		}
		for j := i + 1; j < len(mappings); j++ {
			b := mappings[j]
			if a.Overlaps(b.Trigger) {
				errs = multierr.Append(errs, errors.Errorf(
					"mappings %d and %d both claim %s under overlapping shift conditions", i, j, a.Control))
			}
			if a.Operation == b.Operation && a.Condition.Overlaps(b.Condition) {
				errs = multierr.Append(errs, errors.Errorf(
					"mappings %d and %d both write %q under overlapping shift conditions", i, j, a.Operation))
			}
		}
	}
	return errs
}

// ValidateAnalog rejects bad deadzones, non-axis controls and operations mapped twice.
func ValidateAnalog(mappings []AnalogMapping) error {
	var errs error
	seen := map[operation.ID]int{}
	for i, m := range mappings {
		if m.Operation.Kind != operation.Analog {
			errs = multierr.Append(errs, errors.Errorf("axis mapping %d: %q is not analog", i, m.Operation))
		}
		if !m.Control.Code.IsAxis() {
			errs = multierr.Append(errs, errors.Errorf("axis mapping %d: %s is not an axis", i, m.Control))
		}
		if m.Deadzone < 0 || m.Deadzone >= 1 || math.IsNaN(m.Deadzone) {
			errs = multierr.Append(errs, errors.Errorf("axis mapping %d: deadzone %v must be in [0, 1)", i, m.Deadzone))
		}
		if prev, ok := seen[m.Operation]; ok {
			errs = multierr.Append(errs, errors.Errorf("axis mappings %d and %d both write %q", prev, i, m.Operation))
		}
		seen[m.Operation] = i
	}
	return errs
}
