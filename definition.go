package sagaorch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fortressi/sagaorch/dag"
	"github.com/fortressi/sagaorch/set"
	"github.com/puzpuzpuz/xsync/v3"
)

// Trigger is the request that starts a saga. BusinessID is copied onto the
// instance so callers can correlate sagas with their own records.
//
// A trigger may also implement Validate() error; it is called after struct-tag
// validation.
type Trigger interface {
	BusinessID() string
}

// PayloadBuilder maps the trigger and transaction id to the forward request
// body of a step. It must be pure: it may be called once per saga and its
// result is recorded on the step.
type PayloadBuilder[T any] func(trigger T, txID string) (any, error)

// CompensationRequest is the default body sent to a compensation address.
type CompensationRequest struct {
	TransactionID string          `json:"transaction_id"`
	SagaType      string          `json:"saga_type"`
	BusinessID    string          `json:"business_id"`
	Step          string          `json:"step"`
	Request       json.RawMessage `json:"request,omitempty"`
}

// CompensationBuilder overrides the body sent to a compensation address.
type CompensationBuilder func(req CompensationRequest) (any, error)

// StepSpec describes one step of a saga: a forward action and the action that
// undoes it.
type StepSpec[T any] struct {
	Name  string
	Label string

	// Forward is the address invoked to execute the step.
	Forward string
	// Compensation is the address invoked to undo the step.
	Compensation string

	Payload             PayloadBuilder[T]
	CompensationPayload CompensationBuilder

	// Timeout bounds each call for this step. Zero means the orchestrator
	// default.
	Timeout time.Duration
}

// Definition is an immutable, ordered list of steps registered under a saga
// type name. The order is both the execution order and, reversed, the
// compensation order.
type Definition[T any] struct {
	name  string
	steps []StepSpec[T]
	graph *dag.Graph
}

// NewDefinition builds a definition from steps in execution order.
func NewDefinition[T any](name string, steps ...StepSpec[T]) (*Definition[T], error) {
	b := NewDefinitionBuilder[T](name)
	for _, s := range steps {
		if err := b.Append(s); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// MustDefinition is like NewDefinition but panics on an invalid definition.
func MustDefinition[T any](name string, steps ...StepSpec[T]) *Definition[T] {
	d, err := NewDefinition(name, steps...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Definition[T]) Name() string { return d.name }

func (d *Definition[T]) Len() int { return len(d.steps) }

// Steps returns a copy of the step specs in execution order.
func (d *Definition[T]) Steps() []StepSpec[T] {
	return append([]StepSpec[T](nil), d.steps...)
}

func (d *Definition[T]) StepNames() []string {
	names := make([]string, len(d.steps))
	for i, s := range d.steps {
		names[i] = s.Name
	}
	return names
}

// DOT renders the step graph in Graphviz format.
func (d *Definition[T]) DOT() (string, error) {
	return d.graph.ExportToDot(d.name)
}

// StepInfo is the externally visible description of a step.
type StepInfo struct {
	Name         string `json:"name"`
	Label        string `json:"label,omitempty"`
	Forward      string `json:"forward"`
	Compensation string `json:"compensation"`
	Timeout      string `json:"timeout,omitempty"`
}

// DefinitionInfo is the externally visible description of a definition.
type DefinitionInfo struct {
	Name  string     `json:"name"`
	Steps []StepInfo `json:"steps"`
}

func (d *Definition[T]) Describe() DefinitionInfo {
	info := DefinitionInfo{Name: d.name, Steps: make([]StepInfo, len(d.steps))}
	for i, s := range d.steps {
		si := StepInfo{Name: s.Name, Label: s.Label, Forward: s.Forward, Compensation: s.Compensation}
		if s.Timeout > 0 {
			si.Timeout = s.Timeout.String()
		}
		info.Steps[i] = si
	}
	return info
}

// DefinitionBuilder assembles a Definition step by step.
type DefinitionBuilder[T any] struct {
	name      string
	graph     *dag.Graph
	steps     map[string]StepSpec[T]
	stepNames *set.Set[string]
}

func NewDefinitionBuilder[T any](name string) *DefinitionBuilder[T] {
	return &DefinitionBuilder[T]{
		name:      name,
		graph:     dag.New(),
		steps:     make(map[string]StepSpec[T]),
		stepNames: &set.Set[string]{},
	}
}

// Append adds a step that runs after every step appended so far.
func (b *DefinitionBuilder[T]) Append(step StepSpec[T]) error {
	switch {
	case step.Name == "":
		return definitionFailed(b.name, "step %d has no name", b.stepNames.Len())
	case step.Forward == "":
		return definitionFailed(b.name, "step %q has no forward address", step.Name)
	case step.Compensation == "":
		return definitionFailed(b.name, "step %q has no compensation address", step.Name)
	case step.Payload == nil:
		return definitionFailed(b.name, "step %q has no payload builder", step.Name)
	case step.Timeout < 0:
		return definitionFailed(b.name, "step %q has a negative timeout", step.Name)
	}
	if !b.stepNames.Insert(step.Name) {
		return definitionFailed(b.name, "step with name '%s' already exists", step.Name)
	}

	if _, err := b.graph.Append(step.Name, step.Label); err != nil {
		return definitionFailed(b.name, "%v", err)
	}
	b.steps[step.Name] = step
	return nil
}

// Build freezes the builder into a Definition.
func (b *DefinitionBuilder[T]) Build() (*Definition[T], error) {
	if b.name == "" {
		return nil, definitionFailed(b.name, "definition has no name")
	}
	if len(b.steps) == 0 {
		return nil, definitionFailed(b.name, "definition has no steps")
	}

	order, err := b.graph.Order()
	if err != nil {
		return nil, definitionFailed(b.name, "%v", err)
	}

	steps := make([]StepSpec[T], 0, len(order))
	for _, name := range order {
		steps = append(steps, b.steps[name])
	}
	return &Definition[T]{name: b.name, steps: steps, graph: b.graph}, nil
}

// DefinitionRegistry maps saga type names to definitions.
type DefinitionRegistry[T any] struct {
	definitions *xsync.MapOf[string, *Definition[T]]
}

func NewDefinitionRegistry[T any]() *DefinitionRegistry[T] {
	return &DefinitionRegistry[T]{
		definitions: xsync.NewMapOf[string, *Definition[T]](),
	}
}

// Register adds a definition under its name.
func (r *DefinitionRegistry[T]) Register(def *Definition[T]) error {
	if def == nil {
		return fmt.Errorf("nil definition")
	}
	if _, loaded := r.definitions.LoadOrStore(def.Name(), def); loaded {
		return fmt.Errorf("saga type '%s' already registered", def.Name())
	}
	return nil
}

// Get retrieves a definition by saga type name.
func (r *DefinitionRegistry[T]) Get(name string) (*Definition[T], error) {
	def, ok := r.definitions.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSagaType, name)
	}
	return def, nil
}

// Names returns the registered saga types, sorted.
func (r *DefinitionRegistry[T]) Names() []string {
	names := make([]string, 0, r.definitions.Size())
	r.definitions.Range(func(name string, _ *Definition[T]) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
