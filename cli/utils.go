package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.opcore.dev/opcore/config"
	"go.opcore.dev/opcore/input"
	"go.opcore.dev/opcore/input/replay"
	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/mechanism"
	"go.opcore.dev/opcore/mechanism/fake"
)

// printf prints a line to w.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a warning line to w.
func warningf(w io.Writer, format string, a ...interface{}) {
	printf(w, "Warning: "+format, a...)
}

// loadEnv loads the --env-file, if given, without overriding variables already set.
func loadEnv(c *cli.Context) error {
	path := c.String(envFileFlag)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "loading env file %s", path)
	}
	return nil
}

func readConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(configFlag)
	if path == "" {
		return nil, errors.Errorf("--%s is required", configFlag)
	}
	return config.Read(path)
}

// fakeMechanisms builds a recording mechanism for every mechanism the config names.
func fakeMechanisms(cfg *config.Config, logger logging.Logger) (*mechanism.Set, []*fake.Mechanism, error) {
	vocab, err := cfg.Vocabulary()
	if err != nil {
		return nil, nil, err
	}
	fakes := make([]*fake.Mechanism, 0, len(cfg.Mechanisms))
	all := make([]mechanism.Mechanism, 0, len(cfg.Mechanisms))
	for _, m := range cfg.Mechanisms {
		ids, err := vocab.ResolveAll(m.Operations)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "mechanism %q", m.Name)
		}
		f := fake.NewMechanism(m.Name, logger.Sublogger(m.Name), ids...)
		fakes = append(fakes, f)
		all = append(all, f)
	}
	set, err := mechanism.NewSet(all...)
	if err != nil {
		return nil, nil, err
	}
	return set, fakes, nil
}

// openSource returns the replay source given by --replay, or one that reports every control
// released.
func openSource(c *cli.Context, logger logging.Logger) (input.Source, error) {
	path := c.String(replayFlag)
	if path == "" {
		return input.SourceFunc(func(ctx context.Context) (input.Frame, error) {
			return input.NewFrame(), ctx.Err()
		}), nil
	}
	src, err := replay.Open(path, c.Bool(loopFlag), logger)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// logPatterns puts the --log-level default ahead of the configured patterns so they win.
func logPatterns(level string, cfg *config.Config) []logging.LoggerPatternConfig {
	return append([]logging.LoggerPatternConfig{{Pattern: "*", Level: level}}, cfg.Log...)
}

func formatShifts(shifts map[string]bool) string {
	if len(shifts) == 0 {
		return ""
	}
	names := lo.Keys(shifts)
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if shifts[name] {
			parts = append(parts, "+"+name)
		} else {
			parts = append(parts, "-"+name)
		}
	}
	return " [" + strings.Join(parts, " ") + "]"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// mechanismTable lists what each recording mechanism saw, with the last values it was commanded.
func mechanismTable(fakes []*fake.Mechanism) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Mechanism", "Reads", "Updates", "Stops", "Last"})
	for _, f := range fakes {
		last := f.Last()
		names := make([]string, 0, len(last))
		values := make(map[string]float64, len(last))
		for id, v := range last {
			names = append(names, id.String())
			values[id.String()] = v
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+"="+formatFloat(values[name]))
		}
		t.AppendRow(table.Row{f.Name(), f.ReadCount, f.UpdateCount, f.StopCount, strings.Join(parts, " ")})
	}
	return t.Render()
}
