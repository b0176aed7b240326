// Package config defines the tables that configure a robot's operations, inputs, macros and
// routines.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.opcore.dev/opcore/control"
	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/macro"
	"go.opcore.dev/opcore/operation"
	"go.opcore.dev/opcore/task"
)

// A Config describes everything the engine runs from. It is plain data; Build turns it into
// immutable tables.
type Config struct {
	ConfigFilePath string `json:"-" yaml:"-"`

	Loop          control.Config                `json:"loop" yaml:"loop"`
	Operations    []Operation                   `json:"operations" yaml:"operations"`
	Shifts        []Shift                       `json:"shifts,omitempty" yaml:"shifts,omitempty"`
	Digital       []DigitalMapping              `json:"digital,omitempty" yaml:"digital,omitempty"`
	Analog        []AnalogMapping               `json:"analog,omitempty" yaml:"analog,omitempty"`
	Macros        []Macro                       `json:"macros,omitempty" yaml:"macros,omitempty"`
	OverlapPolicy string                        `json:"overlap_policy,omitempty" yaml:"overlap_policy,omitempty"`
	Routines      []Routine                     `json:"routines,omitempty" yaml:"routines,omitempty"`
	Autonomous    Autonomous                    `json:"autonomous" yaml:"autonomous"`
	Mechanisms    []Mechanism                   `json:"mechanisms,omitempty" yaml:"mechanisms,omitempty"`
	Log           []logging.LoggerPatternConfig `json:"log,omitempty" yaml:"log,omitempty"`
}

// Operation declares one named operation, e.g. "drive.forward".
type Operation struct {
	Name      string `json:"name" yaml:"name"`
	Kind      string `json:"kind" yaml:"kind"`
	Unbounded bool   `json:"unbounded,omitempty" yaml:"unbounded,omitempty"`
}

// Shift declares a modifier button.
type Shift struct {
	Name    string `json:"name" yaml:"name"`
	Bit     uint   `json:"bit" yaml:"bit"`
	Control string `json:"control" yaml:"control"`
}

// Trigger is a button binding: a control such as "1:ButtonSouth", how it is interpreted and
// which shifts must be held (true) or released (false).
type Trigger struct {
	Control string          `json:"control" yaml:"control"`
	Invert  bool            `json:"invert,omitempty" yaml:"invert,omitempty"`
	Type    string          `json:"type,omitempty" yaml:"type,omitempty"`
	Shifts  map[string]bool `json:"shifts,omitempty" yaml:"shifts,omitempty"`
}

// DigitalMapping binds a digital operation to a button.
type DigitalMapping struct {
	Operation string `json:"operation" yaml:"operation"`
	Trigger   `yaml:",inline"`
}

// AnalogMapping binds an analog operation to an axis.
type AnalogMapping struct {
	Operation string  `json:"operation" yaml:"operation"`
	Control   string  `json:"control" yaml:"control"`
	Invert    bool    `json:"invert,omitempty" yaml:"invert,omitempty"`
	Deadzone  float64 `json:"deadzone,omitempty" yaml:"deadzone,omitempty"`
}

// Macro binds a task tree to a trigger.
type Macro struct {
	Name    string      `json:"name" yaml:"name"`
	Trigger Trigger     `json:"trigger" yaml:"trigger"`
	Task    task.Config `json:"task" yaml:"task"`
	Claims  []string    `json:"claims" yaml:"claims"`
	Resets  []string    `json:"resets,omitempty" yaml:"resets,omitempty"`
}

// Routine is a named autonomous task tree.
type Routine struct {
	Name string      `json:"name" yaml:"name"`
	Task task.Config `json:"task" yaml:"task"`
}

// Autonomous picks the default routine and what it holds. No claims means every operation.
type Autonomous struct {
	Default string   `json:"default,omitempty" yaml:"default,omitempty"`
	Claims  []string `json:"claims,omitempty" yaml:"claims,omitempty"`
	Resets  []string `json:"resets,omitempty" yaml:"resets,omitempty"`
}

// Mechanism names a mechanism and the operations it reads. Only bench runs build mechanisms
// from this; real mechanisms are supplied by the host.
type Mechanism struct {
	Name       string   `json:"name" yaml:"name"`
	Operations []string `json:"operations,omitempty" yaml:"operations,omitempty"`
}

// LoopConfig returns the loop config, defaulting the frequency.
func (c *Config) LoopConfig() control.Config {
	if c.Loop.Frequency == 0 {
		return control.Config{Frequency: control.DefaultFrequency}
	}
	return c.Loop
}

// Validate checks every field that can be checked without building, reporting all problems
// at once.
func (c *Config) Validate() error {
	var errs error
	errs = multierr.Append(errs, c.LoopConfig().Validate("loop"))
	if _, err := c.Policy(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if len(c.Operations) == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError("", "operations"))
	}
	for i, op := range c.Operations {
		errs = multierr.Append(errs, op.Validate(fmt.Sprintf("operations.%d", i)))
	}
	for i, s := range c.Shifts {
		errs = multierr.Append(errs, s.Validate(fmt.Sprintf("shifts.%d", i)))
	}
	for i, m := range c.Digital {
		errs = multierr.Append(errs, m.Validate(fmt.Sprintf("digital.%d", i)))
	}
	for i, m := range c.Analog {
		errs = multierr.Append(errs, m.Validate(fmt.Sprintf("analog.%d", i)))
	}
	for i, m := range c.Macros {
		errs = multierr.Append(errs, m.Validate(fmt.Sprintf("macros.%d", i)))
	}
	for i, r := range c.Routines {
		errs = multierr.Append(errs, r.Validate(fmt.Sprintf("routines.%d", i)))
	}
	errs = multierr.Append(errs, c.validateNames())
	if c.Autonomous.Default != "" && !lo.ContainsBy(c.Routines, func(r Routine) bool { return r.Name == c.Autonomous.Default }) {
		errs = multierr.Append(errs, utils.NewConfigValidationError("autonomous",
			errors.Errorf("default routine %q is not declared", c.Autonomous.Default)))
	}
	for i, m := range c.Mechanisms {
		if m.Name == "" {
			errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(fmt.Sprintf("mechanisms.%d", i), "name"))
		}
	}
	for i, l := range c.Log {
		path := fmt.Sprintf("log.%d", i)
		if !logging.ValidatePattern(l.Pattern) {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf("bad logger pattern %q", l.Pattern)))
		}
		if _, err := logging.LevelFromString(l.Level); err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, err))
		}
	}
	return errs
}

func (c *Config) validateNames() error {
	var errs error
	dup := func(section string, names []string) {
		for _, name := range lo.FindDuplicates(names) {
			errs = multierr.Append(errs, utils.NewConfigValidationError(section, errors.Errorf("name %q is not unique", name)))
		}
	}
	dup("operations", lo.Map(c.Operations, func(o Operation, _ int) string { return o.Name }))
	dup("shifts", lo.Map(c.Shifts, func(s Shift, _ int) string { return s.Name }))
	dup("macros", lo.Map(c.Macros, func(m Macro, _ int) string { return m.Name }))
	dup("routines", lo.Map(c.Routines, func(r Routine, _ int) string { return r.Name }))
	dup("mechanisms", lo.Map(c.Mechanisms, func(m Mechanism, _ int) string { return m.Name }))
	return errs
}

// Policy parses the overlap policy; empty means preempt.
func (c *Config) Policy() (macro.OverlapPolicy, error) {
	p, err := macro.ParseOverlapPolicy(c.OverlapPolicy)
	if err != nil {
		return p, utils.NewConfigValidationError("overlap_policy", err)
	}
	return p, nil
}

// Validate checks an operation declaration.
func (o Operation) Validate(path string) error {
	if o.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	kind, err := operation.KindFromString(o.Kind)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if _, err := operation.ParseID(o.Name, kind); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if o.Unbounded && kind != operation.Analog {
		return utils.NewConfigValidationError(path, errors.New("only analog operations can be unbounded"))
	}
	return nil
}

// Validate checks a shift declaration.
func (s Shift) Validate(path string) error {
	if s.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if s.Bit >= input.MaxShifts {
		return utils.NewConfigValidationError(path, errors.Errorf("bit %d is out of range, must be below %d", s.Bit, input.MaxShifts))
	}
	return validateButton(path, s.Control)
}

// Validate checks a trigger binding.
func (t Trigger) Validate(path string) error {
	if err := validateButton(path, t.Control); err != nil {
		return err
	}
	if _, err := input.ParseButtonType(t.Type); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Validate checks a digital mapping.
func (m DigitalMapping) Validate(path string) error {
	if m.Operation == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "operation")
	}
	return m.Trigger.Validate(path)
}

// Validate checks an analog mapping.
func (m AnalogMapping) Validate(path string) error {
	if m.Operation == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "operation")
	}
	if m.Control == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "control")
	}
	c, err := input.ParseControl(m.Control)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if !c.Code.IsAxis() {
		return utils.NewConfigValidationError(path, errors.Errorf("control %s is not an axis", c))
	}
	if m.Deadzone < 0 || m.Deadzone >= 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("deadzone %v must be in [0, 1)", m.Deadzone))
	}
	return nil
}

// Validate checks a macro declaration. The task tree is checked when it is built.
func (m Macro) Validate(path string) error {
	if m.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if len(m.Claims) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "claims")
	}
	if m.Task.Type == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "task.type")
	}
	return m.Trigger.Validate(path + ".trigger")
}

// Validate checks a routine declaration.
func (r Routine) Validate(path string) error {
	if r.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if r.Task.Type == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "task.type")
	}
	return nil
}

func validateButton(path, control string) error {
	if control == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "control")
	}
	c, err := input.ParseControl(control)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if !c.Code.IsButton() {
		return utils.NewConfigValidationError(path, errors.Errorf("control %s is not a button", c))
	}
	return nil
}
