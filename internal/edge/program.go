// Package edge defines the lowered program consumed by the edge runtime, its binary
// container, the atomic artifact writer, and a reference runtime.
package edge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedOp = errors.New("edge: unsupported operator")
	ErrBadIndex      = errors.New("edge: index out of range")
	ErrUndefined     = errors.New("edge: value used before definition")
	ErrRedefined     = errors.New("edge: value defined twice")
	ErrConstant      = errors.New("edge: constant does not match its value")
)

// supportedOps is the edge runtime operator set.
var supportedOps = map[string]struct{}{
	"conv2d":              {},
	"relu":                {},
	"clamp":               {},
	"sigmoid":             {},
	"tanh":                {},
	"batch_norm":          {},
	"max_pool2d":          {},
	"avg_pool2d":          {},
	"adaptive_avg_pool2d": {},
	"flatten":             {},
	"linear":              {},
	"add":                 {},
	"mul":                 {},
	"softmax":             {},
}

func SupportedOps() []string {
	out := make([]string, 0, len(supportedOps))
	for op := range supportedOps {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

func Supported(op string) bool {
	_, ok := supportedOps[op]
	return ok
}

// Value is one slot in the program's value table. Constant values carry the index
// of their buffer in Program.Constants; ConstIndex is -1 otherwise.
type Value struct {
	Name       string
	Shape      tensor.Shape
	DType      tensor.DType
	ConstIndex int
}

func (v Value) IsConstant() bool { return v.ConstIndex >= 0 }

// Instruction applies Operators[Op] to Args and stores into Results.
type Instruction struct {
	Op      int
	Args    []int
	Results []int
	Attrs   graph.Attrs
}

// Program is a lowered, edge-executable program. ID is only populated by Decode;
// Encode derives it from the encoded body.
type Program struct {
	ID        uuid.UUID
	Name      string
	Operators []string
	Values    []Value
	Constants []*tensor.Tensor
	Inputs    []int
	Outputs   []int
	Chain     []Instruction
}

// OperatorSequence lists the operator of every instruction in execution order.
func (p *Program) OperatorSequence() []string {
	out := make([]string, len(p.Chain))
	for i, ins := range p.Chain {
		out[i] = p.Operators[ins.Op]
	}
	return out
}

// Validate checks operator support, index ranges, constant buffers and that every
// value is defined exactly once before it is read.
func (p *Program) Validate() error {
	for _, op := range p.Operators {
		if !Supported(op) {
			return fmt.Errorf("%w: %s", ErrUnsupportedOp, op)
		}
	}
	defined := make([]bool, len(p.Values))
	for i, v := range p.Values {
		if !v.IsConstant() {
			continue
		}
		if v.ConstIndex >= len(p.Constants) {
			return fmt.Errorf("%w: value %q constant %d of %d", ErrBadIndex, v.Name, v.ConstIndex, len(p.Constants))
		}
		c := p.Constants[v.ConstIndex]
		if c == nil || c.DType != v.DType || !c.Shape.Equal(v.Shape) {
			return fmt.Errorf("%w: %q", ErrConstant, v.Name)
		}
		defined[i] = true
	}
	for _, in := range p.Inputs {
		if err := p.checkIndex("input", in); err != nil {
			return err
		}
		if defined[in] {
			return fmt.Errorf("%w: input %q", ErrRedefined, p.Values[in].Name)
		}
		defined[in] = true
	}
	for i, ins := range p.Chain {
		if ins.Op < 0 || ins.Op >= len(p.Operators) {
			return fmt.Errorf("%w: instruction %d operator %d", ErrBadIndex, i, ins.Op)
		}
		for _, a := range ins.Args {
			if err := p.checkIndex("argument", a); err != nil {
				return err
			}
			if !defined[a] {
				return fmt.Errorf("%w: %q (instruction %d)", ErrUndefined, p.Values[a].Name, i)
			}
		}
		if len(ins.Results) != 1 {
			return fmt.Errorf("%w: instruction %d has %d results", ErrBadIndex, i, len(ins.Results))
		}
		for _, r := range ins.Results {
			if err := p.checkIndex("result", r); err != nil {
				return err
			}
			if defined[r] {
				return fmt.Errorf("%w: %q (instruction %d)", ErrRedefined, p.Values[r].Name, i)
			}
			defined[r] = true
		}
	}
	for _, out := range p.Outputs {
		if err := p.checkIndex("output", out); err != nil {
			return err
		}
		if !defined[out] {
			return fmt.Errorf("%w: output %q", ErrUndefined, p.Values[out].Name)
		}
	}
	return nil
}

func (p *Program) checkIndex(role string, idx int) error {
	if idx < 0 || idx >= len(p.Values) {
		return fmt.Errorf("%w: %s value %d of %d", ErrBadIndex, role, idx, len(p.Values))
	}
	return nil
}
