// Package routine provides the autonomous routine selection consumed at the start of
// autonomous mode.
package routine

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"go.opcore.dev/opcore/task"
	"go.opcore.dev/opcore/utils"
)

// Routine is a named autonomous task tree.
type Routine struct {
	Name    string
	Factory task.Factory
}

// A Selector picks the routine to run. It is consulted once each time autonomous starts.
type Selector interface {
	SelectRoutine() (Routine, error)
}

// Chooser holds the known routines and the one currently selected, e.g. from a dashboard.
type Chooser struct {
	mu       sync.Mutex
	routines map[string]Routine
	selected string
}

// NewChooser returns a chooser with def selected.
func NewChooser(def string, routines ...Routine) (*Chooser, error) {
	c := &Chooser{routines: make(map[string]Routine, len(routines))}
	for _, r := range routines {
		if r.Name == "" {
			return nil, errors.New("routine has no name")
		}
		if r.Factory == nil {
			return nil, errors.Errorf("routine %q has no task", r.Name)
		}
		if _, ok := c.routines[r.Name]; ok {
			return nil, errors.Errorf("routine %q declared more than once", r.Name)
		}
		c.routines[r.Name] = r
	}
	if err := c.Select(def); err != nil {
		return nil, errors.Wrap(err, "default routine")
	}
	return c, nil
}

// Select changes the selected routine.
func (c *Chooser) Select(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.routines[name]; !ok {
		return utils.NewNotFoundError("routine", name)
	}
	c.selected = name
	return nil
}

// Selected returns the selected routine name.
func (c *Chooser) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Names lists the known routines, sorted.
func (c *Chooser) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.routines))
	for name := range c.routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectRoutine implements Selector.
func (c *Chooser) SelectRoutine() (Routine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.routines[c.selected], nil
}
