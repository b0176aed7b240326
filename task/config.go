package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.opcore.dev/opcore/mechanism"
	"go.opcore.dev/opcore/operation"
)

// Config describes a task tree as plain data.
type Config struct {
	Type       string                 `json:"type" yaml:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Children   []Config               `json:"children,omitempty" yaml:"children,omitempty"`
}

// Deps are the collaborators a builder may bind into the tasks it makes.
type Deps struct {
	Vocabulary *operation.Vocabulary
	Mechanisms *mechanism.Set
}

// A Builder validates one node's attributes and returns a factory for it. It must do every
// check up front so the factory cannot fail on well-formed input.
type Builder func(deps Deps, attrs map[string]interface{}, children []Factory) (Factory, error)

var (
	registryMu sync.RWMutex
	builders   = map[string]Builder{}
)

// RegisterBuilder registers a builder for a task type. It panics on duplicates.
func RegisterBuilder(typ string, b Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := builders[typ]; old {
		panic(errors.Errorf("trying to register two task builders for type %q", typ))
	}
	if b == nil {
		panic(errors.Errorf("cannot register a nil builder for type %q", typ))
	}
	builders[typ] = b
}

// LookupBuilder finds the builder registered for typ.
func LookupBuilder(typ string) (Builder, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := builders[typ]
	return b, ok
}

// RegisteredTypes lists the registered task types, sorted.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(builders))
	for typ := range builders {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Compile turns a task tree description into a factory. The tree is built once here so that
// a bad description fails at load time rather than on activation.
func Compile(cfg Config, deps Deps) (Factory, error) {
	if deps.Vocabulary == nil {
		return nil, errors.New("task dependencies need a vocabulary")
	}
	f, err := compile(cfg, deps, "")
	if err != nil {
		return nil, err
	}
	if _, err := Build(f); err != nil {
		return nil, err
	}
	return f, nil
}

func compile(cfg Config, deps Deps, path string) (Factory, error) {
	b, ok := LookupBuilder(cfg.Type)
	if !ok {
		return nil, errors.Errorf("%sunknown task type %q", prefix(path), cfg.Type)
	}
	children := make([]Factory, 0, len(cfg.Children))
	for i, child := range cfg.Children {
		f, err := compile(child, deps, fmt.Sprintf("%schildren.%d", prefix(path), i))
		if err != nil {
			return nil, err
		}
		children = append(children, f)
	}
	f, err := b(deps, cfg.Attributes, children)
	if err != nil {
		return nil, errors.Wrapf(err, "%s%s task", prefix(path), cfg.Type)
	}
	return f, nil
}

func prefix(path string) string {
	if path == "" {
		return ""
	}
	return path + ": "
}

// DecodeAttributes decodes an attribute map into T using json tags. Durations are strings such
// as "1.5s"; unknown attributes are an error.
func DecodeAttributes[T any](attrs map[string]interface{}) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &out,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return out, err
	}
	return out, nil
}

// TimedAttributes configure the "timed" and "wait" builders.
type TimedAttributes struct {
	Duration time.Duration      `json:"duration"`
	Writes   map[string]float64 `json:"writes"`
}

// UntilAttributes configure a sensor condition.
type UntilAttributes struct {
	Mechanism string  `json:"mechanism"`
	Reading   string  `json:"reading"`
	Target    float64 `json:"target"`
	Tolerance float64 `json:"tolerance"`
}

// OperationAttributes configure the "operation" builder.
type OperationAttributes struct {
	Operation string           `json:"operation"`
	Allowed   []string         `json:"allowed"`
	Value     *float64         `json:"value"`
	Timeout   time.Duration    `json:"timeout"`
	Until     *UntilAttributes `json:"until"`
}

func noChildren(children []Factory) error {
	if len(children) > 0 {
		return errors.New("does not take children")
	}
	return nil
}

func buildTimed(writesAllowed bool) Builder {
	return func(deps Deps, attrs map[string]interface{}, children []Factory) (Factory, error) {
		if err := noChildren(children); err != nil {
			return nil, err
		}
		conf, err := DecodeAttributes[TimedAttributes](attrs)
		if err != nil {
			return nil, err
		}
		if conf.Duration <= 0 {
			return nil, errors.New("duration must be positive")
		}
		if !writesAllowed && len(conf.Writes) > 0 {
			return nil, errors.New("wait does not write operations")
		}
		writes := make(map[operation.ID]float64, len(conf.Writes))
		for name, v := range conf.Writes {
			id, err := deps.Vocabulary.Resolve(name, 0)
			if err != nil {
				return nil, err
			}
			writes[id] = v
		}
		return func() (Task, error) {
			w := make(map[operation.ID]float64, len(writes))
			for id, v := range writes {
				w[id] = v
			}
			return NewTimed(conf.Duration, w), nil
		}, nil
	}
}

func buildOperation(deps Deps, attrs map[string]interface{}, children []Factory) (Factory, error) {
	if err := noChildren(children); err != nil {
		return nil, err
	}
	conf, err := DecodeAttributes[OperationAttributes](attrs)
	if err != nil {
		return nil, err
	}
	op, err := deps.Vocabulary.Resolve(conf.Operation, 0)
	if err != nil {
		return nil, err
	}
	allowed, err := deps.Vocabulary.ResolveAll(conf.Allowed)
	if err != nil {
		return nil, err
	}
	value := 1.0
	if conf.Value != nil {
		value = *conf.Value
	}
	if _, err := NewOperationTask(allowed, op, value, conf.Timeout); err != nil {
		return nil, err
	}
	var until *SensorCondition
	if conf.Until != nil {
		reader, err := mechanism.Lookup[mechanism.SensorReader](deps.Mechanisms, conf.Until.Mechanism)
		if err != nil {
			return nil, err
		}
		if conf.Until.Reading == "" {
			return nil, errors.New("until needs a reading")
		}
		if conf.Until.Tolerance < 0 {
			return nil, errors.New("until tolerance must not be negative")
		}
		until = &SensorCondition{
			Reader:    reader,
			Reading:   conf.Until.Reading,
			Target:    conf.Until.Target,
			Tolerance: conf.Until.Tolerance,
		}
	}
	return func() (Task, error) {
		t, err := NewOperationTask(allowed, op, value, conf.Timeout)
		if err != nil {
			return nil, err
		}
		if until != nil {
			t.Until = *until
		}
		return t, nil
	}, nil
}

func buildGroup(newGroup func(children []Task) Task) Builder {
	return func(deps Deps, attrs map[string]interface{}, children []Factory) (Factory, error) {
		if len(attrs) > 0 {
			return nil, errors.New("takes no attributes")
		}
		if len(children) == 0 {
			return nil, errors.New("needs at least one child")
		}
		return func() (Task, error) {
			tasks := make([]Task, 0, len(children))
			for i, f := range children {
				t, err := Build(f)
				if err != nil {
					return nil, errors.Wrapf(err, "child %d", i)
				}
				tasks = append(tasks, t)
			}
			return newGroup(tasks), nil
		}, nil
	}
}

func init() {
	RegisterBuilder("timed", buildTimed(true))
	RegisterBuilder("wait", buildTimed(false))
	RegisterBuilder("operation", buildOperation)
	RegisterBuilder("sequential", buildGroup(func(c []Task) Task { return NewSequential(c...) }))
	RegisterBuilder("all", buildGroup(func(c []Task) Task { return NewConcurrent(All, c...) }))
	RegisterBuilder("any", buildGroup(func(c []Task) Task { return NewConcurrent(Any, c...) }))
}
