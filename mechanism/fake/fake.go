// Package fake implements a recording mechanism for tests and bench runs.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.opcore.dev/opcore/logging"
	"go.opcore.dev/opcore/operation"
)

// Mechanism records every call and the values of its watched operations at each Update.
type Mechanism struct {
	name   string
	watch  []operation.ID
	logger logging.Logger

	mu       sync.Mutex
	src      operation.Source
	readings map[string]float64
	history  []map[operation.ID]float64

	ReadCount   int
	UpdateCount int
	StopCount   int

	// ReadingsFunc, when set, produces the sensor snapshot for each ReadSensors call.
	ReadingsFunc func() map[string]float64
	// UpdateErr, when set, is returned from every Update.
	UpdateErr error
}

// NewMechanism returns a fake watching the given operations.
func NewMechanism(name string, logger logging.Logger, watch ...operation.ID) *Mechanism {
	return &Mechanism{name: name, watch: watch, logger: logger, readings: map[string]float64{}}
}

// Name implements mechanism.Mechanism.
func (m *Mechanism) Name() string {
	return m.name
}

// SetActiveCommandSource implements mechanism.Mechanism.
func (m *Mechanism) SetActiveCommandSource(src operation.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.src = src
}

// ReadSensors implements mechanism.Mechanism.
func (m *Mechanism) ReadSensors(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCount++
	if m.ReadingsFunc != nil {
		m.readings = m.ReadingsFunc()
	}
	return nil
}

// Readings implements mechanism.SensorReader.
func (m *Mechanism) Readings() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readings
}

// SetReadings replaces the sensor snapshot directly.
func (m *Mechanism) SetReadings(r map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = r
}

// Update implements mechanism.Mechanism.
func (m *Mechanism) Update(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateCount++
	if m.src == nil {
		return errors.Errorf("%s has no command source", m.name)
	}
	values := make(map[operation.ID]float64, len(m.watch))
	for _, id := range m.watch {
		if id.Kind == operation.Digital {
			if m.src.GetDigital(id) {
				values[id] = 1
			} else {
				values[id] = 0
			}
			continue
		}
		values[id] = m.src.GetAnalog(id)
	}
	m.history = append(m.history, values)
	if m.logger != nil {
		m.logger.Debugw("update", "mechanism", m.name, "values", operation.Names(m.active(values)))
	}
	return m.UpdateErr
}

func (m *Mechanism) active(values map[operation.ID]float64) []operation.ID {
	var out []operation.ID
	for _, id := range m.watch {
		if values[id] != 0 {
			out = append(out, id)
		}
	}
	return out
}

// Stop implements mechanism.Mechanism.
func (m *Mechanism) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCount++
	return nil
}

// History returns the watched values seen at each Update.
func (m *Mechanism) History() []map[operation.ID]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[operation.ID]float64(nil), m.history...)
}

// Last returns the values seen at the most recent Update.
func (m *Mechanism) Last() map[operation.ID]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return nil
	}
	return m.history[len(m.history)-1]
}
