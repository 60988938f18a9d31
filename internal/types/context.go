package types

import (
	"fmt"
	"sort"
	"time"
)

// ParamReader is a whole-tree parameter snapshot captured once per tick.
type ParamReader interface {
	Get(path string) (any, bool)
	Generation() uint64
}

// HistoricReader is a timestamp-indexed view into a producer's past databases.
type HistoricReader interface {
	Get(timestamp time.Time) (*Database, bool)
}

// Context is the resolved view a module receives on each Step call. All
// latest inputs are bound before the module runs; historic inputs are looked
// up on demand with a module-supplied timestamp.
type Context struct {
	timestamp time.Time
	inputs    map[string]any
	historic  map[string]HistoricReader
	params    ParamReader
	state     any
	declared  map[string]bool
	outputs   map[string]any
}

// ContextConfig carries the resolved bindings for one module step.
type ContextConfig struct {
	Timestamp time.Time
	Inputs    map[string]any
	Historic  map[string]HistoricReader
	Params    ParamReader
	State     any
	Outputs   []string
}

// NewContext builds a step context from resolved bindings.
func NewContext(cfg ContextConfig) *Context {
	declared := make(map[string]bool, len(cfg.Outputs))
	for _, path := range cfg.Outputs {
		declared[path] = true
	}
	return &Context{
		timestamp: cfg.Timestamp,
		inputs:    cfg.Inputs,
		historic:  cfg.Historic,
		params:    cfg.Params,
		state:     cfg.State,
		declared:  declared,
		outputs:   make(map[string]any, len(cfg.Outputs)),
	}
}

// Timestamp returns the current tick's timestamp, e.g. the arrival time of
// the event that triggered it.
func (c *Context) Timestamp() time.Time {
	return c.timestamp
}

// Input returns the latest value bound to a declared input path. ok is false
// when the producer has not published yet.
func (c *Context) Input(path string) (any, bool) {
	v, ok := c.inputs[path]
	return v, ok
}

// Historic returns the value of a declared historic input as of the given
// timestamp. ok is false when no retained entry is old enough or the producer
// never stored the path.
func (c *Context) Historic(path string, timestamp time.Time) (any, bool) {
	reader, ok := c.historic[path]
	if !ok {
		return nil, false
	}
	db, ok := reader.Get(timestamp)
	if !ok {
		return nil, false
	}
	return db.Get(path)
}

// Param returns a parameter value from the tick's parameter snapshot.
func (c *Context) Param(path string) (any, bool) {
	if c.params == nil {
		return nil, false
	}
	return c.params.Get(path)
}

// ParamGeneration reports the parameter generation this tick observes.
func (c *Context) ParamGeneration() uint64 {
	if c.params == nil {
		return 0
	}
	return c.params.Generation()
}

// State returns the module's persistent state.
func (c *Context) State() any {
	return c.state
}

// SetState replaces the module's persistent state for subsequent ticks.
func (c *Context) SetState(state any) {
	c.state = state
}

// SetOutput records a declared output value for this tick.
func (c *Context) SetOutput(path string, value any) error {
	if !c.declared[path] {
		return fmt.Errorf("output %q not declared by module", path)
	}
	c.outputs[path] = value
	return nil
}

// Outputs returns the values produced so far this tick.
func (c *Context) Outputs() map[string]any {
	return c.outputs
}

// MissingOutputs lists declared outputs the module has not produced.
func (c *Context) MissingOutputs() []string {
	var missing []string
	for path := range c.declared {
		if _, ok := c.outputs[path]; !ok {
			missing = append(missing, path)
		}
	}
	sort.Strings(missing)
	return missing
}
