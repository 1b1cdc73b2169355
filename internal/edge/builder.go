package edge

import (
	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/tensor"
)

// Builder assembles a Program, interning operator names and value slots by name.
type Builder struct {
	p      *Program
	values map[string]int
	ops    map[string]int
}

func NewBuilder(name string) *Builder {
	return &Builder{
		p:      &Program{Name: name},
		values: make(map[string]int),
		ops:    make(map[string]int),
	}
}

// Value returns the slot for name, creating it on first use.
func (b *Builder) Value(name string, shape tensor.Shape, dt tensor.DType) int {
	if idx, ok := b.values[name]; ok {
		return idx
	}
	idx := len(b.p.Values)
	b.p.Values = append(b.p.Values, Value{Name: name, Shape: shape.Clone(), DType: dt, ConstIndex: -1})
	b.values[name] = idx
	return idx
}

func (b *Builder) Lookup(name string) (int, bool) {
	idx, ok := b.values[name]
	return idx, ok
}

func (b *Builder) Input(name string, shape tensor.Shape, dt tensor.DType) int {
	idx := b.Value(name, shape, dt)
	b.p.Inputs = append(b.p.Inputs, idx)
	return idx
}

// Constant binds t to a new constant slot named name.
func (b *Builder) Constant(name string, t *tensor.Tensor) int {
	idx := b.Value(name, t.Shape, t.DType)
	b.p.Values[idx].ConstIndex = len(b.p.Constants)
	b.p.Constants = append(b.p.Constants, t)
	return idx
}

func (b *Builder) Emit(op string, args []int, result int, attrs graph.Attrs) {
	opIdx, ok := b.ops[op]
	if !ok {
		opIdx = len(b.p.Operators)
		b.p.Operators = append(b.p.Operators, op)
		b.ops[op] = opIdx
	}
	b.p.Chain = append(b.p.Chain, Instruction{
		Op:      opIdx,
		Args:    append([]int(nil), args...),
		Results: []int{result},
		Attrs:   attrs.Clone(),
	})
}

func (b *Builder) Output(idx int) {
	b.p.Outputs = append(b.p.Outputs, idx)
}

func (b *Builder) Program() *Program {
	return b.p
}
