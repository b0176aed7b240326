package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/macro"
	"go.opcore.dev/opcore/mechanism"
	"go.opcore.dev/opcore/operation"
	"go.opcore.dev/opcore/robot"
	"go.opcore.dev/opcore/routine"
	"go.opcore.dev/opcore/task"
)

// Vocabulary builds the declared operations.
func (c *Config) Vocabulary() (*operation.Vocabulary, error) {
	defs := make([]operation.Definition, 0, len(c.Operations))
	for i, op := range c.Operations {
		path := fmt.Sprintf("operations.%d", i)
		kind, err := operation.KindFromString(op.Kind)
		if err != nil {
			return nil, utils.NewConfigValidationError(path, err)
		}
		id, err := operation.ParseID(op.Name, kind)
		if err != nil {
			return nil, utils.NewConfigValidationError(path, err)
		}
		defs = append(defs, operation.Definition{ID: id, Unbounded: op.Unbounded})
	}
	return operation.NewVocabulary(defs...)
}

// Build turns the config into engine tables. Every reference is resolved and every task tree
// is built once, so a config that builds cannot fail later on a bad name. mechanisms may be
// nil when no task reads sensors.
func (c *Config) Build(mechanisms *mechanism.Set, logger logging.Logger) (robot.Tables, error) {
	if err := c.Validate(); err != nil {
		return robot.Tables{}, err
	}
	vocab, err := c.Vocabulary()
	if err != nil {
		return robot.Tables{}, err
	}

	shifts := make([]input.Shift, 0, len(c.Shifts))
	for _, s := range c.Shifts {
		ctrl, err := input.ParseControl(s.Control)
		if err != nil {
			return robot.Tables{}, err
		}
		shifts = append(shifts, input.Shift{Name: s.Name, Bit: s.Bit, Control: ctrl})
	}
	dispatcher, err := input.NewDispatcher(shifts)
	if err != nil {
		return robot.Tables{}, errors.Wrap(err, "shifts")
	}

	var errs error
	digital := make([]input.DigitalMapping, 0, len(c.Digital))
	for i, m := range c.Digital {
		path := fmt.Sprintf("digital.%d", i)
		op, err := vocab.Resolve(m.Operation, operation.Digital)
		if err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, err))
			continue
		}
		trigger, err := m.Trigger.build(dispatcher)
		if err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, err))
			continue
		}
		digital = append(digital, input.DigitalMapping{Operation: op, Trigger: trigger})
	}
	analog := make([]input.AnalogMapping, 0, len(c.Analog))
	for i, m := range c.Analog {
		path := fmt.Sprintf("analog.%d", i)
		op, err := vocab.Resolve(m.Operation, operation.Analog)
		if err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, err))
			continue
		}
		ctrl, err := input.ParseControl(m.Control)
		if err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(path, err))
			continue
		}
		analog = append(analog, input.AnalogMapping{Operation: op, Control: ctrl, Invert: m.Invert, Deadzone: m.Deadzone})
	}
	if errs != nil {
		return robot.Tables{}, errs
	}
	resolver, err := input.NewResolver(dispatcher, digital, analog)
	if err != nil {
		return robot.Tables{}, errors.Wrap(err, "mappings")
	}

	deps := task.Deps{Vocabulary: vocab, Mechanisms: mechanisms}
	descs := make([]macro.Description, 0, len(c.Macros))
	for i, m := range c.Macros {
		d, err := m.build(dispatcher, deps)
		if err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(fmt.Sprintf("macros.%d", i), err))
			continue
		}
		descs = append(descs, d)
	}
	routines := make([]routine.Routine, 0, len(c.Routines))
	for i, r := range c.Routines {
		f, err := task.Compile(r.Task, deps)
		if err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(fmt.Sprintf("routines.%d", i), err))
			continue
		}
		routines = append(routines, routine.Routine{Name: r.Name, Factory: f})
	}
	autoClaims, err := vocab.ResolveAll(c.Autonomous.Claims)
	if err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError("autonomous.claims", err))
	}
	autoResets, err := vocab.ResolveAll(c.Autonomous.Resets)
	if err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError("autonomous.resets", err))
	}
	if errs != nil {
		return robot.Tables{}, errs
	}

	policy, err := c.Policy()
	if err != nil {
		return robot.Tables{}, err
	}
	manager, err := macro.NewManager(descs, policy, nil, logger)
	if err != nil {
		return robot.Tables{}, err
	}

	tables := robot.Tables{
		Vocabulary:       vocab,
		Shifts:           dispatcher,
		Resolver:         resolver,
		Macros:           manager,
		Mechanisms:       mechanisms,
		AutonomousClaims: autoClaims,
		AutonomousResets: autoResets,
	}
	if len(routines) > 0 {
		def := c.Autonomous.Default
		if def == "" {
			def = routines[0].Name
		}
		chooser, err := routine.NewChooser(def, routines...)
		if err != nil {
			return robot.Tables{}, err
		}
		tables.Selector = chooser
	}
	return tables, nil
}

func (t Trigger) build(d *input.Dispatcher) (input.Trigger, error) {
	ctrl, err := input.ParseControl(t.Control)
	if err != nil {
		return input.Trigger{}, err
	}
	typ, err := input.ParseButtonType(t.Type)
	if err != nil {
		return input.Trigger{}, err
	}
	cond, err := d.Condition(t.Shifts)
	if err != nil {
		return input.Trigger{}, err
	}
	return input.Trigger{Control: ctrl, Invert: t.Invert, Type: typ, Condition: cond}, nil
}

func (m Macro) build(d *input.Dispatcher, deps task.Deps) (macro.Description, error) {
	trigger, err := m.Trigger.build(d)
	if err != nil {
		return macro.Description{}, errors.Wrap(err, "trigger")
	}
	claims, err := deps.Vocabulary.ResolveAll(m.Claims)
	if err != nil {
		return macro.Description{}, errors.Wrap(err, "claims")
	}
	resets, err := deps.Vocabulary.ResolveAll(m.Resets)
	if err != nil {
		return macro.Description{}, errors.Wrap(err, "resets")
	}
	f, err := task.Compile(m.Task, deps)
	if err != nil {
		return macro.Description{}, errors.Wrap(err, "task")
	}
	return macro.Description{Name: m.Name, Trigger: trigger, Factory: f, Claims: claims, Resets: resets}, nil
}
