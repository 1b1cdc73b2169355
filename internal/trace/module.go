// Package trace owns traced-program artifacts: the in-memory Module, its container
// codec, and the Loader stage that turns a file into an evaluation-mode Module.
package trace

import (
	"fmt"
	"sort"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/tensor"
)

// Module is a deserialized traced program. Params and Graph are shared between
// copies and must not be mutated.
type Module struct {
	Name     string
	Training bool
	Params   map[string]*tensor.Tensor
	Graph    *graph.Graph
}

// Eval returns a copy of m with training-only behavior disabled.
func (m *Module) Eval() *Module {
	out := *m
	out.Training = false
	return &out
}

// Train returns a copy of m in training mode.
func (m *Module) Train() *Module {
	out := *m
	out.Training = true
	return &out
}

func (m *Module) ParamNames() []string {
	names := make([]string, 0, len(m.Params))
	for name := range m.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the graph is well formed against the module parameters.
func (m *Module) Validate() error {
	if m.Graph == nil {
		return fmt.Errorf("trace: module %q has no graph", m.Name)
	}
	if len(m.Graph.Inputs) == 0 {
		return fmt.Errorf("trace: module %q declares no inputs", m.Name)
	}
	if len(m.Graph.Outputs) == 0 {
		return fmt.Errorf("trace: module %q declares no outputs", m.Name)
	}
	for name, p := range m.Params {
		if p == nil {
			return fmt.Errorf("trace: parameter %q is empty", name)
		}
	}
	return m.Graph.Validate(m.ParamNames())
}
