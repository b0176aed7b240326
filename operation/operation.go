// Package operation defines the named control signals shared by inputs, tasks and mechanisms,
// and the per-tick state that carries their values.
package operation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the value type of an operation.
type Kind uint8

const (
	// Digital operations carry a boolean.
	Digital Kind = iota + 1
	// Analog operations carry a real number.
	Analog
)

func (k Kind) String() string {
	switch k {
	case Digital:
		return "digital"
	case Analog:
		return "analog"
	default:
		return "unknown"
	}
}

// KindFromString parses "digital" or "analog".
func KindFromString(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "digital":
		return Digital, nil
	case "analog":
		return Analog, nil
	}
	return 0, errors.Errorf("unknown operation kind %q", s)
}

// ID identifies an operation. IDs are comparable and are used as map keys everywhere.
type ID struct {
	Namespace string
	Name      string
	Kind      Kind
}

// NewDigital returns a digital operation id.
func NewDigital(namespace, name string) ID {
	return ID{Namespace: namespace, Name: name, Kind: Digital}
}

// NewAnalog returns an analog operation id.
func NewAnalog(namespace, name string) ID {
	return ID{Namespace: namespace, Name: name, Kind: Analog}
}

// String returns the dotted form, e.g. "drive.forward".
func (id ID) String() string {
	return id.Namespace + "." + id.Name
}

// ParseID splits a dotted operation name into an id of the given kind.
func ParseID(s string, kind Kind) (ID, error) {
	ns, name, ok := strings.Cut(s, ".")
	if !ok || ns == "" || name == "" || strings.Contains(name, ".") {
		return ID{}, errors.Errorf("operation name %q must have the form namespace.name", s)
	}
	if kind != Digital && kind != Analog {
		return ID{}, errors.Errorf("operation %q has no kind", s)
	}
	return ID{Namespace: ns, Name: name, Kind: kind}, nil
}

// Definition declares one member of a Vocabulary.
type Definition struct {
	ID ID
	// Unbounded analog operations carry a physical unit and are not clamped to [-1, 1].
	Unbounded bool
}

// Vocabulary is the closed set of operations a robot understands. It is immutable once built.
type Vocabulary struct {
	defs   map[ID]Definition
	byName map[string]ID
	order  []ID
}

// NewVocabulary builds a vocabulary, rejecting duplicate names across kinds.
func NewVocabulary(defs ...Definition) (*Vocabulary, error) {
	v := &Vocabulary{
		defs:   make(map[ID]Definition, len(defs)),
		byName: make(map[string]ID, len(defs)),
	}
	for _, def := range defs {
		if def.ID.Namespace == "" || def.ID.Name == "" {
			return nil, errors.Errorf("operation %q has an empty namespace or name", def.ID)
		}
		if def.ID.Kind != Digital && def.ID.Kind != Analog {
			return nil, errors.Errorf("operation %q has no kind", def.ID)
		}
		if _, ok := v.byName[def.ID.String()]; ok {
			return nil, errors.Errorf("operation %q declared more than once", def.ID)
		}
		v.defs[def.ID] = def
		v.byName[def.ID.String()] = def.ID
		v.order = append(v.order, def.ID)
	}
	sort.Slice(v.order, func(i, j int) bool { return v.order[i].String() < v.order[j].String() })
	return v, nil
}

// MustVocabulary is NewVocabulary for static tables; it panics on error.
func MustVocabulary(defs ...Definition) *Vocabulary {
	v, err := NewVocabulary(defs...)
	if err != nil {
		panic(err)
	}
	return v
}

// Contains reports whether id is part of the vocabulary.
func (v *Vocabulary) Contains(id ID) bool {
	_, ok := v.defs[id]
	return ok
}

// Lookup finds an operation by its dotted name.
func (v *Vocabulary) Lookup(name string) (ID, bool) {
	id, ok := v.byName[name]
	return id, ok
}

// Resolve looks up a dotted name and checks its kind. A zero kind accepts either.
func (v *Vocabulary) Resolve(name string, kind Kind) (ID, error) {
	id, ok := v.byName[name]
	if !ok {
		return ID{}, errors.Wrapf(ErrUnknown, "%q", name)
	}
	if kind != 0 && id.Kind != kind {
		return ID{}, errors.Wrapf(ErrKind, "%q is %s, want %s", name, id.Kind, kind)
	}
	return id, nil
}

// ResolveAll resolves a list of dotted names of any kind.
func (v *Vocabulary) ResolveAll(names []string) ([]ID, error) {
	ids := make([]ID, 0, len(names))
	for _, name := range names {
		id, err := v.Resolve(name, 0)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Definition returns the declaration of id.
func (v *Vocabulary) Definition(id ID) (Definition, bool) {
	def, ok := v.defs[id]
	return def, ok
}

// All returns every operation sorted by name.
func (v *Vocabulary) All() []ID {
	out := make([]ID, len(v.order))
	copy(out, v.order)
	return out
}

// Len returns the number of operations.
func (v *Vocabulary) Len() int {
	return len(v.order)
}

// Names renders ids as dotted names, for logging.
func Names(ids []ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func (def Definition) String() string {
	return fmt.Sprintf("%s(%s)", def.ID, def.ID.Kind)
}
