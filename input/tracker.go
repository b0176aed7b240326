package input

// ButtonTracker keeps the per-button state Click and Toggle need across ticks.
type ButtonTracker struct {
	Type    ButtonType
	prev    bool
	toggled bool
}

// NewButtonTracker returns a tracker for t.
func NewButtonTracker(t ButtonType) *ButtonTracker {
	return &ButtonTracker{Type: t}
}

// Update records this tick's raw level and returns the logical value. Edges are tracked even
// when active is false, but an inactive tracker neither reports nor toggles.
func (b *ButtonTracker) Update(raw, active bool) bool {
	rising := raw && !b.prev
	b.prev = raw
	if !active {
		return b.Type == Toggle && b.toggled
	}
	switch b.Type {
	case Click:
		return rising
	case Toggle:
		if rising {
			b.toggled = !b.toggled
		}
		return b.toggled
	default:
		return raw
	}
}

// Toggled reports the current toggle state.
func (b *ButtonTracker) Toggled() bool {
	return b.toggled
}

// ClearToggle drops the toggle state without touching edge tracking.
func (b *ButtonTracker) ClearToggle() {
	b.toggled = false
}

// Reset forgets all history.
func (b *ButtonTracker) Reset() {
	b.prev = false
	b.toggled = false
}
