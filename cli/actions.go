package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
	goutils "go.viam.com/utils"

	"go.opcore.dev/opcore/config"
	"go.opcore.dev/opcore/control"
	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/robot"
	"go.opcore.dev/opcore/routine"
	"go.opcore.dev/opcore/task"
)

// ValidateAction loads and builds the tables, reporting every problem found.
func ValidateAction(c *cli.Context) error {
	cfg, tables, err := buildTables(c, logging.NewBlankLogger("opcore"))
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s is valid: %d operations, %d macros, %d routines",
		cfg.ConfigFilePath, tables.Vocabulary.Len(), len(cfg.Macros), len(cfg.Routines))
	if len(cfg.Routines) == 0 {
		warningf(c.App.ErrWriter, "no routines are defined, autonomous will idle")
	}
	return nil
}

// DescribeAction prints what the tables bind, in load order.
func DescribeAction(c *cli.Context) error {
	cfg, tables, err := buildTables(c, logging.NewBlankLogger("opcore"))
	if err != nil {
		return err
	}
	w := c.App.Writer
	loop := cfg.LoopConfig()
	printf(w, "Loop: %v Hz, overlap policy %s", loop.Frequency, tables.Macros.Policy())

	printf(w, "Operations:")
	for _, op := range cfg.Operations {
		extra := ""
		if op.Unbounded {
			extra = " unbounded"
		}
		printf(w, "\t%s %s%s", op.Name, strings.ToLower(op.Kind), extra)
	}
	if len(cfg.Shifts) > 0 {
		printf(w, "Shifts:")
		for _, s := range cfg.Shifts {
			printf(w, "\t%s bit %d on %s", s.Name, s.Bit, controlName(s.Control))
		}
	}
	if len(cfg.Digital) > 0 {
		printf(w, "Buttons:")
		for _, m := range cfg.Digital {
			printf(w, "\t%s <- %s", m.Operation, describeTrigger(m.Trigger))
		}
	}
	if len(cfg.Analog) > 0 {
		printf(w, "Axes:")
		for _, m := range cfg.Analog {
			extra := ""
			if m.Invert {
				extra += " inverted"
			}
			if m.Deadzone > 0 {
				extra += " deadzone " + formatFloat(m.Deadzone)
			}
			printf(w, "\t%s <- %s%s", m.Operation, controlName(m.Control), extra)
		}
	}
	if len(cfg.Macros) > 0 {
		printf(w, "Macros:")
		for _, m := range cfg.Macros {
			printf(w, "\t%s <- %s claims %s", m.Name, describeTrigger(m.Trigger), strings.Join(m.Claims, ", "))
			if len(m.Resets) > 0 {
				printf(w, "\t\tresets %s", strings.Join(m.Resets, ", "))
			}
		}
	}
	if chooser, ok := tables.Selector.(*routine.Chooser); ok {
		printf(w, "Routines:")
		for _, name := range chooser.Names() {
			if name == chooser.Selected() {
				printf(w, "\t%s (default)", name)
				continue
			}
			printf(w, "\t%s", name)
		}
	}
	printf(w, "Task types: %s", strings.Join(task.RegisteredTypes(), ", "))
	return nil
}

// RunAction runs autonomous then teleop against recording mechanisms, feeding input from a
// replay file if one is given, and prints what each mechanism saw.
func RunAction(c *cli.Context) error {
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	var extra []zapcore.Core
	if path := c.String(logFileFlag); path != "" {
		core, closer := logging.NewFileCore(path)
		defer goutils.UncheckedErrorFunc(closer.Close)
		extra = append(extra, core)
	}
	logger, registry := logging.NewLoggerWithRegistry("opcore", extra...)
	defer goutils.UncheckedErrorFunc(logger.Sync)
	if err := registry.Update(logPatterns(c.String(logLevelFlag), cfg), logger); err != nil {
		return err
	}

	set, fakes, err := fakeMechanisms(cfg, logger.Sublogger("mechanisms"))
	if err != nil {
		return err
	}
	tables, err := cfg.Build(set, logger)
	if err != nil {
		return err
	}
	if name := c.String(routineFlag); name != "" {
		chooser, ok := tables.Selector.(*routine.Chooser)
		if !ok {
			return errors.New("the tables define no routines")
		}
		if err := chooser.Select(name); err != nil {
			return err
		}
	}
	source, err := openSource(c, logger)
	if err != nil {
		return err
	}
	engine, err := robot.NewEngine(tables, source, nil, logger)
	if err != nil {
		return err
	}
	loop, err := control.NewLoop(logger, cfg.LoopConfig(), engine, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := loop.Start(); err != nil {
		return err
	}
	runMatch(ctx, c.App.Writer, engine, c.Duration(autoFlag), c.Duration(teleopFlag))
	loop.Stop()
	closeErr := engine.Close(context.Background())

	printf(c.App.Writer, "Ran %d ticks at %v Hz (%d overruns, %d with errors)",
		loop.Ticks(), loop.Frequency(), loop.Overruns(), loop.Failures())
	if timing, err := loop.Timing(); err == nil {
		printf(c.App.Writer, "Tick time: mean %v, p50 %v, p99 %v, max %v",
			timing.Mean, timing.P50, timing.P99, timing.Max)
	}
	printf(c.App.Writer, "%s", mechanismTable(fakes))
	return closeErr
}

// runMatch requests each period in turn and waits it out. It returns early when ctx is done.
func runMatch(ctx context.Context, w io.Writer, engine *robot.Engine, auto, teleop time.Duration) {
	for _, period := range []struct {
		mode robot.Mode
		d    time.Duration
	}{
		{robot.Autonomous, auto},
		{robot.Teleop, teleop},
	} {
		if period.d <= 0 {
			continue
		}
		printf(w, "%s for %s", period.mode, period.d)
		engine.RequestMode(period.mode)
		if !goutils.SelectContextOrWait(ctx, period.d) {
			printf(w, "interrupted")
			return
		}
	}
}

func buildTables(c *cli.Context, logger logging.Logger) (*config.Config, robot.Tables, error) {
	cfg, err := readConfig(c)
	if err != nil {
		return nil, robot.Tables{}, err
	}
	set, _, err := fakeMechanisms(cfg, logger)
	if err != nil {
		return nil, robot.Tables{}, err
	}
	tables, err := cfg.Build(set, logger)
	if err != nil {
		return nil, robot.Tables{}, err
	}
	return cfg, tables, nil
}

func describeTrigger(t config.Trigger) string {
	typ := t.Type
	if typ == "" {
		typ = "simple"
	}
	out := controlName(t.Control) + " " + strings.ToLower(typ)
	if t.Invert {
		out += " inverted"
	}
	return out + formatShifts(t.Shifts)
}

func controlName(s string) string {
	ctrl, err := input.ParseControl(s)
	if err != nil {
		return s
	}
	return ctrl.String()
}
