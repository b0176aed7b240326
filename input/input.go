// Package input turns raw controller state into operation values: shift dispatch, button
// semantics and axis conditioning.
package input

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ControlCode identifies a button or axis on a device. Named codes follow common gamepad
// layouts; numbered codes cover joysticks that only report indices.
type ControlCode uint32

// Axes.
const (
	AbsoluteX     ControlCode = 1000
	AbsoluteY     ControlCode = 1001
	AbsoluteZ     ControlCode = 1002
	AbsoluteRX    ControlCode = 1003
	AbsoluteRY    ControlCode = 1004
	AbsoluteRZ    ControlCode = 1005
	AbsoluteHat0X ControlCode = 1006
	AbsoluteHat0Y ControlCode = 1007

	// Numbered axes start here; see Axis.
	axisBase ControlCode = 1100
	axisEnd  ControlCode = 2000
)

// Buttons.
const (
	ButtonSouth  ControlCode = 2000
	ButtonEast   ControlCode = 2001
	ButtonWest   ControlCode = 2002
	ButtonNorth  ControlCode = 2003
	ButtonLT     ControlCode = 2004
	ButtonRT     ControlCode = 2005
	ButtonLThumb ControlCode = 2006
	ButtonRThumb ControlCode = 2007
	ButtonSelect ControlCode = 2008
	ButtonStart  ControlCode = 2009
	ButtonMenu   ControlCode = 2010

	// Numbered buttons start here; see Button.
	buttonBase ControlCode = 2100
)

var controlNames = map[ControlCode]string{
	AbsoluteX:     "AbsoluteX",
	AbsoluteY:     "AbsoluteY",
	AbsoluteZ:     "AbsoluteZ",
	AbsoluteRX:    "AbsoluteRX",
	AbsoluteRY:    "AbsoluteRY",
	AbsoluteRZ:    "AbsoluteRZ",
	AbsoluteHat0X: "AbsoluteHat0X",
	AbsoluteHat0Y: "AbsoluteHat0Y",
	ButtonSouth:   "ButtonSouth",
	ButtonEast:    "ButtonEast",
	ButtonWest:    "ButtonWest",
	ButtonNorth:   "ButtonNorth",
	ButtonLT:      "ButtonLT",
	ButtonRT:      "ButtonRT",
	ButtonLThumb:  "ButtonLThumb",
	ButtonRThumb:  "ButtonRThumb",
	ButtonSelect:  "ButtonSelect",
	ButtonStart:   "ButtonStart",
	ButtonMenu:    "ButtonMenu",
}

// Button returns the code of the n-th numbered button.
func Button(n int) ControlCode {
	return buttonBase + ControlCode(n)
}

// Axis returns the code of the n-th numbered axis.
func Axis(n int) ControlCode {
	return axisBase + ControlCode(n)
}

// IsAxis reports whether the code names an axis.
func (c ControlCode) IsAxis() bool {
	return c >= AbsoluteX && c < axisEnd
}

// IsButton reports whether the code names a button.
func (c ControlCode) IsButton() bool {
	return c >= ButtonSouth
}

func (c ControlCode) String() string {
	if name, ok := controlNames[c]; ok {
		return name
	}
	switch {
	case c >= buttonBase:
		return fmt.Sprintf("Button%d", c-buttonBase)
	case c >= axisBase && c < axisEnd:
		return fmt.Sprintf("Axis%d", c-axisBase)
	}
	return fmt.Sprintf("Control(%d)", uint32(c))
}

// ParseControlCode parses a named code ("ButtonSouth") or a numbered one ("Button3", "Axis1").
func ParseControlCode(s string) (ControlCode, error) {
	for code, name := range controlNames {
		if strings.EqualFold(name, s) {
			return code, nil
		}
	}
	lower := strings.ToLower(s)
	for prefix, base := range map[string]ControlCode{"button": buttonBase, "axis": axisBase} {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		n, err := strconv.Atoi(lower[len(prefix):])
		if err != nil || n < 0 || (base == axisBase && axisBase+ControlCode(n) >= axisEnd) {
			break
		}
		return base + ControlCode(n), nil
	}
	return 0, errors.Errorf("unknown control %q", s)
}

// Control is one physical button or axis on one device (a driver station port).
type Control struct {
	Device int
	Code   ControlCode
}

func (c Control) String() string {
	return fmt.Sprintf("%d:%s", c.Device, c.Code)
}

// Frame is the raw state of every device for one tick. Buttons absent from the frame are
// released and absent axes read zero.
type Frame struct {
	Time    time.Time
	Buttons map[Control]bool
	Axes    map[Control]float64
}

// NewFrame returns an empty frame.
func NewFrame() Frame {
	return Frame{Buttons: map[Control]bool{}, Axes: map[Control]float64{}}
}

// Button returns the raw level of a button.
func (f Frame) Button(c Control) bool {
	return f.Buttons[c]
}

// Axis returns the raw value of an axis.
func (f Frame) Axis(c Control) float64 {
	return f.Axes[c]
}

// Press marks a button held and returns the frame for chaining. A zero Frame gets its map
// made here, so only the returned frame carries the press.
func (f Frame) Press(c Control) Frame {
	if f.Buttons == nil {
		f.Buttons = map[Control]bool{}
	}
	f.Buttons[c] = true
	return f
}

// WithAxis sets an axis and returns the frame for chaining. Like Press, it works on a zero
// Frame through the returned value.
func (f Frame) WithAxis(c Control, v float64) Frame {
	if f.Axes == nil {
		f.Axes = map[Control]float64{}
	}
	f.Axes[c] = v
	return f
}

// A Source produces one frame per tick. Reads must not block past the tick budget.
type Source interface {
	Read(ctx context.Context) (Frame, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Frame, error)

// Read calls f.
func (f SourceFunc) Read(ctx context.Context) (Frame, error) {
	return f(ctx)
}

// ParseControl parses the "device:code" form produced by Control.String. A bare code is on
// device 0.
func ParseControl(s string) (Control, error) {
	dev, code, ok := strings.Cut(s, ":")
	if !ok {
		dev, code = "0", s
	}
	n, err := strconv.Atoi(dev)
	if err != nil || n < 0 {
		return Control{}, errors.Errorf("bad device in control %q", s)
	}
	c, err := ParseControlCode(code)
	if err != nil {
		return Control{}, err
	}
	return Control{Device: n, Code: c}, nil
}
