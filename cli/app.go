// Package cli contains the opcore command line: table validation, description and bench runs.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	configFlag   = "config"
	envFileFlag  = "env-file"
	logLevelFlag = "log-level"
	logFileFlag  = "log-file"
	replayFlag   = "replay"
	loopFlag     = "loop"
	autoFlag     = "auto"
	teleopFlag   = "teleop"
	routineFlag  = "routine"
)

var app = &cli.App{
	Name:            "opcore",
	Usage:           "check and bench-run robot control tables",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "load tables from `FILE` (.json, .yaml or .yml)",
		},
		&cli.StringFlag{
			Name:  envFileFlag,
			Usage: "load environment variables from `FILE` before reading the tables",
		},
		&cli.StringFlag{
			Name:  logLevelFlag,
			Value: "info",
			Usage: "default log level: debug, info, warn or error",
		},
	},
	Before: loadEnv,
	Commands: []*cli.Command{
		{
			Name:   "validate",
			Usage:  "check that the tables load and build",
			Action: ValidateAction,
		},
		{
			Name:   "describe",
			Usage:  "print the operations, bindings, macros and routines the tables define",
			Action: DescribeAction,
		},
		{
			Name:  "run",
			Usage: "run a scripted match against recording mechanisms",
			UsageText: "opcore --config robot.yaml run [--replay frames.jsonl] " +
				"[--auto 15s] [--teleop 2m15s]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  replayFlag,
					Usage: "replay input frames from a JSON lines `FILE`",
				},
				&cli.PathFlag{
					Name:  logFileFlag,
					Usage: "also write JSON logs to `FILE`, rotating it as it grows",
				},
				&cli.BoolFlag{
					Name:  loopFlag,
					Usage: "restart the replay when it runs out",
				},
				&cli.DurationFlag{
					Name:  autoFlag,
					Value: 15 * time.Second,
					Usage: "length of the autonomous period",
				},
				&cli.DurationFlag{
					Name:  teleopFlag,
					Value: 135 * time.Second,
					Usage: "length of the teleop period",
				},
				&cli.StringFlag{
					Name:  routineFlag,
					Usage: "autonomous routine to run instead of the configured default",
				},
			},
			Action: RunAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
