// Package control runs work on a fixed-rate control loop.
package control

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/utils"
)

// DefaultFrequency is the loop rate used when none is configured: a 20ms period.
const DefaultFrequency = 50.0

// MaxFrequency is the highest loop rate accepted.
const MaxFrequency = 200.0

// logEvery limits repeated overrun and error logs to one in this many.
const logEvery = 50

// Tickable is driven once per loop period. Tick must return well within the period.
type Tickable interface {
	Tick(ctx context.Context) error
}

// TickFunc adapts a function to Tickable.
type TickFunc func(ctx context.Context) error

// Tick calls f.
func (f TickFunc) Tick(ctx context.Context) error {
	return f(ctx)
}

// Config holds the loop config.
type Config struct {
	Frequency float64 `json:"frequency_hz" yaml:"frequency_hz"`
}

// Validate checks the loop rate.
func (c Config) Validate(path string) error {
	if c.Frequency <= 0 || c.Frequency > MaxFrequency {
		return errors.Errorf("%s: loop frequency shouldn't be 0 or above %vHz", path, MaxFrequency)
	}
	return nil
}

// Loop calls a Tickable on every clock tick.
type Loop struct {
	cfg    Config
	dt     time.Duration
	target Tickable
	clock  clock.Clock
	logger logging.Logger

	mu      sync.Mutex
	workers utils.StoppableWorkers

	ticks    atomic.Uint64
	overruns atomic.Uint64
	failures atomic.Uint64
	timing   durations
}

// NewLoop constructs a loop for target. A nil clock uses the wall clock.
func NewLoop(logger logging.Logger, cfg Config, target Tickable, clk clock.Clock) (*Loop, error) {
	if err := cfg.Validate("loop"); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		cfg:    cfg,
		dt:     time.Duration(float64(time.Second) / cfg.Frequency),
		target: target,
		clock:  clk,
		logger: logger.Sublogger("loop"),
	}, nil
}

// Period returns the time between ticks.
func (l *Loop) Period() time.Duration {
	return l.dt
}

// Frequency returns the loop's frequency.
func (l *Loop) Frequency() float64 {
	return l.cfg.Frequency
}

// Ticks returns how many ticks have run.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Overruns returns how many ticks took longer than the period.
func (l *Loop) Overruns() uint64 {
	return l.overruns.Load()
}

// Failures returns how many ticks returned an error.
func (l *Loop) Failures() uint64 {
	return l.failures.Load()
}

// Timing summarizes the durations of the most recent ticks.
func (l *Loop) Timing() (Timing, error) {
	return summarize(l.timing.snapshot())
}

// Start starts the loop. The ticker exists once Start returns.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers != nil {
		return errors.New("control loop already started")
	}
	l.logger.Infof("running loop at %.1fHz (%v)", l.cfg.Frequency, l.dt)
	ticker := l.clock.Ticker(l.dt)
	l.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			l.runOnce(ctx)
		}
	})
	return nil
}

func (l *Loop) runOnce(ctx context.Context) {
	start := l.clock.Now()
	err := l.target.Tick(ctx)
	elapsed := l.clock.Since(start)
	l.ticks.Inc()
	l.timing.add(elapsed)
	if err != nil && ctx.Err() == nil {
		if n := l.failures.Inc(); n%logEvery == 1 {
			l.logger.Warnw("tick failed", "error", err, "failures", n)
		}
	}
	if elapsed > l.dt {
		if n := l.overruns.Inc(); n%logEvery == 1 {
			l.logger.Warnw("tick overran its period", "elapsed", elapsed, "period", l.dt, "overruns", n)
		}
	}
}

// Stop stops the loop and waits for the running tick to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.workers == nil {
		return
	}
	l.workers.Stop()
}
