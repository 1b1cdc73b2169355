package edge

import (
	"fmt"

	"github.com/danmuck/edgeexport/internal/kernels"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/rs/zerolog/log"
)

// Execute runs p on inputs, which must match the program's input values exactly.
func Execute(p *Program, inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != len(p.Inputs) {
		return nil, fmt.Errorf("edge: program %q takes %d inputs, got %d", p.Name, len(p.Inputs), len(inputs))
	}
	env := make([]*tensor.Tensor, len(p.Values))
	for i, v := range p.Values {
		if v.IsConstant() {
			env[i] = p.Constants[v.ConstIndex]
		}
	}
	for i, idx := range p.Inputs {
		v := p.Values[idx]
		in := inputs[i]
		if in == nil || in.DType != v.DType || !in.Shape.Equal(v.Shape) {
			return nil, fmt.Errorf("%w: input %q wants %s %s", tensor.ErrShapeMismatch, v.Name, v.Shape, v.DType)
		}
		env[idx] = in
	}
	for i, ins := range p.Chain {
		op := p.Operators[ins.Op]
		fn, ok := kernels.Lookup(op)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, op)
		}
		args := make([]*tensor.Tensor, len(ins.Args))
		for j, a := range ins.Args {
			args[j] = env[a]
		}
		out, err := fn(args, ins.Attrs)
		if err != nil {
			return nil, fmt.Errorf("edge: instruction %d (%s): %w", i, op, err)
		}
		r := ins.Results[0]
		if !out.Shape.Equal(p.Values[r].Shape) {
			return nil, fmt.Errorf("%w: instruction %d (%s) produced %s, value %q is %s",
				tensor.ErrShapeMismatch, i, op, out.Shape, p.Values[r].Name, p.Values[r].Shape)
		}
		env[r] = out
	}
	outs := make([]*tensor.Tensor, len(p.Outputs))
	for i, idx := range p.Outputs {
		outs[i] = env[idx]
	}
	log.Debug().Str("program", p.Name).Int("instructions", len(p.Chain)).Msg("edge.Execute")
	return outs, nil
}
