package operation

import (
	"go.uber.org/atomic"
)

// Bus holds the most recently published State. Mechanisms read from the bus; the control loop
// replaces its state once per tick.
type Bus struct {
	vocab   *Vocabulary
	current *atomic.Pointer[State]
}

// NewBus returns a bus that reads all-neutral until the first publish.
func NewBus(vocab *Vocabulary) *Bus {
	initial := NewState(vocab)
	initial.Publish()
	return &Bus{vocab: vocab, current: atomic.NewPointer(initial)}
}

// Publish freezes s and makes it the state every reader sees.
func (b *Bus) Publish(s *State) {
	s.Publish()
	b.current.Store(s)
}

// Clear publishes an all-neutral state.
func (b *Bus) Clear() {
	b.Publish(NewState(b.vocab))
}

// Current returns the latest published state. It must not be written to.
func (b *Bus) Current() *State {
	return b.current.Load()
}

// GetDigital reads a digital operation from the latest published state.
func (b *Bus) GetDigital(id ID) bool {
	return b.current.Load().GetDigital(id)
}

// GetAnalog reads an analog operation from the latest published state.
func (b *Bus) GetAnalog(id ID) float64 {
	return b.current.Load().GetAnalog(id)
}
