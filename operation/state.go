package operation

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Owner names the single writer of an operation within one tick.
type Owner string

// InputOwner owns every operation that no macro or routine has claimed.
const InputOwner Owner = "input"

// Source is the read side of the operation state, used by mechanisms.
type Source interface {
	GetDigital(id ID) bool
	GetAnalog(id ID) float64
}

// Writer writes operation values on behalf of one owner.
type Writer interface {
	Owner() Owner
	SetDigital(id ID, value bool) error
	SetAnalog(id ID, value float64) error
}

// State maps every operation in a vocabulary to its value for one tick. A State is built fresh
// each tick with every operation neutral and owned by InputOwner; it is frozen by Publish.
type State struct {
	vocab     *Vocabulary
	digital   map[ID]bool
	analog    map[ID]float64
	owners    map[ID]Owner
	published bool
}

// NewState returns an all-neutral state owned entirely by InputOwner.
func NewState(vocab *Vocabulary) *State {
	s := &State{
		vocab:   vocab,
		digital: make(map[ID]bool),
		analog:  make(map[ID]float64),
		owners:  make(map[ID]Owner, vocab.Len()),
	}
	for _, id := range vocab.All() {
		s.owners[id] = InputOwner
		s.neutral(id)
	}
	return s
}

// Vocabulary returns the vocabulary the state was built from.
func (s *State) Vocabulary() *Vocabulary {
	return s.vocab
}

// GetDigital returns the value of a digital operation; unknown operations read false.
func (s *State) GetDigital(id ID) bool {
	return s.digital[id]
}

// GetAnalog returns the value of an analog operation; unknown operations read 0.
func (s *State) GetAnalog(id ID) float64 {
	return s.analog[id]
}

// Owner returns the owner of id this tick.
func (s *State) Owner(id ID) Owner {
	return s.owners[id]
}

// Writer returns a writer scoped to owner. It can only write operations owner holds.
func (s *State) Writer(owner Owner) Writer {
	return &scopedWriter{state: s, owner: owner}
}

// Claim hands ids over to owner for the rest of the tick and sets them neutral. Operations must
// currently belong to InputOwner or to owner itself; nothing changes if any does not.
func (s *State) Claim(owner Owner, ids []ID) error {
	if s.published {
		return ErrPublished
	}
	for _, id := range ids {
		cur, ok := s.owners[id]
		if !ok {
			return errors.Wrapf(ErrUnknown, "%q", id)
		}
		if cur != InputOwner && cur != owner {
			return errors.Wrapf(ErrNotOwner, "%q is held by %q", id, cur)
		}
	}
	for _, id := range ids {
		s.owners[id] = owner
		s.neutral(id)
	}
	return nil
}

// Neutralize forces ids to their neutral value on behalf of owner, taking them over from
// InputOwner. Operations held by some other owner are left alone and returned.
func (s *State) Neutralize(owner Owner, ids []ID) []ID {
	if s.published {
		return ids
	}
	var skipped []ID
	for _, id := range ids {
		cur, ok := s.owners[id]
		if !ok || (cur != InputOwner && cur != owner) {
			skipped = append(skipped, id)
			continue
		}
		s.owners[id] = owner
		s.neutral(id)
	}
	return skipped
}

// Snapshot returns the current values of ids, digital values as 0 or 1.
func (s *State) Snapshot(ids []ID) map[ID]float64 {
	out := make(map[ID]float64, len(ids))
	for _, id := range ids {
		if id.Kind == Digital {
			if s.digital[id] {
				out[id] = 1
			} else {
				out[id] = 0
			}
			continue
		}
		out[id] = s.analog[id]
	}
	return out
}

// Release hands every operation owner holds back to InputOwner. Operations in restore get that
// value back; the rest stay as they are. The released operations are returned, sorted.
func (s *State) Release(owner Owner, restore map[ID]float64) []ID {
	if s.published || owner == InputOwner {
		return nil
	}
	var released []ID
	for id, cur := range s.owners {
		if cur != owner {
			continue
		}
		s.owners[id] = InputOwner
		if v, ok := restore[id]; ok {
			if id.Kind == Digital {
				s.digital[id] = v != 0
			} else {
				s.analog[id] = v
			}
		}
		released = append(released, id)
	}
	sort.Slice(released, func(i, j int) bool { return released[i].String() < released[j].String() })
	return released
}

// Publish freezes the state. Every later write fails with ErrPublished.
func (s *State) Publish() {
	s.published = true
}

// Published reports whether Publish was called.
func (s *State) Published() bool {
	return s.published
}

// Values renders the state keyed by dotted operation name.
func (s *State) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(s.owners))
	for id := range s.owners {
		if id.Kind == Digital {
			out[id.String()] = s.digital[id]
		} else {
			out[id.String()] = s.analog[id]
		}
	}
	return out
}

func (s *State) neutral(id ID) {
	if id.Kind == Digital {
		s.digital[id] = false
	} else {
		s.analog[id] = 0
	}
}

func (s *State) check(owner Owner, id ID, kind Kind) error {
	if s.published {
		return ErrPublished
	}
	cur, ok := s.owners[id]
	if !ok {
		return errors.Wrapf(ErrUnknown, "%q", id)
	}
	if id.Kind != kind {
		return errors.Wrapf(ErrKind, "%q is %s", id, id.Kind)
	}
	if cur != owner {
		return errors.Wrapf(ErrNotOwner, "%q is held by %q, not %q", id, cur, owner)
	}
	return nil
}

type scopedWriter struct {
	state *State
	owner Owner
}

func (w *scopedWriter) Owner() Owner {
	return w.owner
}

func (w *scopedWriter) SetDigital(id ID, value bool) error {
	if err := w.state.check(w.owner, id, Digital); err != nil {
		return err
	}
	w.state.digital[id] = value
	return nil
}

func (w *scopedWriter) SetAnalog(id ID, value float64) error {
	if err := w.state.check(w.owner, id, Analog); err != nil {
		return err
	}
	if math.IsNaN(value) {
		return errors.Errorf("NaN written to %q", id)
	}
	if def, _ := w.state.vocab.Definition(id); !def.Unbounded {
		value = math.Max(-1, math.Min(1, value))
	}
	w.state.analog[id] = value
	return nil
}

// SetValue writes value to id, interpreting any non-zero value as true for digital operations.
func SetValue(w Writer, id ID, value float64) error {
	if id.Kind == Digital {
		return w.SetDigital(id, value != 0)
	}
	return w.SetAnalog(id, value)
}
