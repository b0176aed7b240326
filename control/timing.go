package control

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// timingWindow is how many recent tick durations a loop keeps.
const timingWindow = 512

// Timing summarizes how long recent ticks took.
type Timing struct {
	Samples int
	Mean    time.Duration
	P50     time.Duration
	P99     time.Duration
	Max     time.Duration
}

// durations is a fixed-size ring of tick durations.
type durations struct {
	mu      sync.Mutex
	samples []float64
	next    int
}

func (d *durations) add(elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.samples) < timingWindow {
		d.samples = append(d.samples, float64(elapsed))
		return
	}
	d.samples[d.next] = float64(elapsed)
	d.next = (d.next + 1) % timingWindow
}

func (d *durations) snapshot() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.samples...)
}

func summarize(samples stats.Float64Data) (Timing, error) {
	if len(samples) == 0 {
		return Timing{}, errors.New("no ticks have run")
	}
	mean, err := stats.Mean(samples)
	if err != nil {
		return Timing{}, err
	}
	p50, err := stats.Percentile(samples, 50)
	if err != nil {
		return Timing{}, err
	}
	p99, err := stats.Percentile(samples, 99)
	if err != nil {
		return Timing{}, err
	}
	maxVal, err := stats.Max(samples)
	if err != nil {
		return Timing{}, err
	}
	return Timing{
		Samples: len(samples),
		Mean:    time.Duration(mean),
		P50:     time.Duration(p50),
		P99:     time.Duration(p99),
		Max:     time.Duration(maxVal),
	}, nil
}
