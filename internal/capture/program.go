package capture

import (
	"fmt"
	"sort"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/tensor"
)

// Spec is the concrete type of one program value.
type Spec struct {
	Name  string
	Shape tensor.Shape
	DType tensor.DType
}

func (s Spec) String() string {
	return fmt.Sprintf("%s%s:%s", s.Name, s.Shape, s.DType)
}

// Program is a flat, shape-specialized capture of a traced module. Control flow is
// resolved, constants and referenced parameters live in Constants, and every value
// has a concrete Spec. A Program is not modified after Capture returns it.
type Program struct {
	Name      string
	Input     Spec
	Outputs   []Spec
	Nodes     []*graph.Node
	Constants map[string]*tensor.Tensor
	Values    map[string]Spec
}

func (p *Program) ConstantNames() []string {
	names := make([]string, 0, len(p.Constants))
	for name := range p.Constants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operators returns the distinct operator kinds used, sorted.
func (p *Program) Operators() []string {
	seen := make(map[string]struct{})
	for _, n := range p.Nodes {
		seen[n.Kind] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for kind := range seen {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// Run evaluates the program with the reference kernels. input must match the
// program's input contract exactly.
func (p *Program) Run(input *tensor.Tensor) ([]*tensor.Tensor, error) {
	if input == nil || input.DType != p.Input.DType || !input.Shape.Equal(p.Input.Shape) {
		return nil, fmt.Errorf("capture: input does not match contract %s", p.Input)
	}
	env := make(map[string]*tensor.Tensor, len(p.Values))
	for name, c := range p.Constants {
		env[name] = c
	}
	env[p.Input.Name] = input
	for _, n := range p.Nodes {
		args := make([]*tensor.Tensor, len(n.Inputs))
		for i, in := range n.Inputs {
			if args[i] = env[in]; args[i] == nil {
				return nil, fmt.Errorf("capture: value %q used before definition", in)
			}
		}
		out, err := Evaluate(n, args)
		if err != nil {
			return nil, fmt.Errorf("capture: %s: %w", n.Kind, err)
		}
		env[n.Outputs[0]] = out
	}
	outs := make([]*tensor.Tensor, len(p.Outputs))
	for i, o := range p.Outputs {
		outs[i] = env[o.Name]
	}
	return outs, nil
}

// Describe renders the input contract and outputs for logs and CLI output.
func (p *Program) Describe() string {
	return fmt.Sprintf("%s(%s) -> %v", p.Name, p.Input, p.Outputs)
}
