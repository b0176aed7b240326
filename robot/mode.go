package robot

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode is the match phase the robot is in.
type Mode int32

// Modes, in match order.
const (
	Disabled Mode = iota
	Autonomous
	Teleop
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case Autonomous:
		return "autonomous"
	case Teleop:
		return "teleop"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name. "auto" and "teleoperated" are accepted too.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled":
		return Disabled, nil
	case "autonomous", "auto":
		return Autonomous, nil
	case "teleop", "teleoperated":
		return Teleop, nil
	}
	return Disabled, errors.Errorf("unknown mode %q", s)
}
