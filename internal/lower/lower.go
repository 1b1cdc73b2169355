// Package lower turns a captured program into an edge program: eval-only operators
// are removed, constant subgraphs and batch norms are folded, and every remaining
// operator is legalized to the edge opset.
package lower

import (
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/edgeexport/internal/capture"
	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/edge"
	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/rs/zerolog/log"
)

type Options struct {
	FoldBatchNorm bool
}

func DefaultOptions() Options {
	return Options{FoldBatchNorm: true}
}

// work is the mutable copy the passes rewrite. The captured program is never touched.
type work struct {
	name    string
	input   capture.Spec
	outputs []string
	nodes   []*graph.Node
	consts  map[string]*tensor.Tensor
	specs   map[string]capture.Spec
}

func newWork(p *capture.Program) *work {
	w := &work{
		name:   p.Name,
		input:  p.Input,
		nodes:  make([]*graph.Node, len(p.Nodes)),
		consts: make(map[string]*tensor.Tensor, len(p.Constants)),
		specs:  make(map[string]capture.Spec, len(p.Values)),
	}
	for i, n := range p.Nodes {
		w.nodes[i] = n.Clone()
	}
	for name, c := range p.Constants {
		w.consts[name] = c
	}
	for name, s := range p.Values {
		w.specs[name] = s
	}
	for _, o := range p.Outputs {
		w.outputs = append(w.outputs, o.Name)
	}
	return w
}

// fresh returns an unused value name derived from base.
func (w *work) fresh(base string) string {
	name := base
	for i := 1; ; i++ {
		if _, taken := w.specs[name]; !taken {
			return name
		}
		name = base + "." + strconv.Itoa(i)
	}
}

func (w *work) addConstant(base string, t *tensor.Tensor) string {
	name := w.fresh(base)
	w.consts[name] = t
	w.specs[name] = capture.Spec{Name: name, Shape: t.Shape.Clone(), DType: t.DType}
	return name
}

// replaceUses rewires every reader of from to read to instead.
func (w *work) replaceUses(from, to string) {
	for _, n := range w.nodes {
		for i, in := range n.Inputs {
			if in == from {
				n.Inputs[i] = to
			}
		}
	}
	for i, out := range w.outputs {
		if out == from {
			w.outputs[i] = to
		}
	}
}

type pass struct {
	name string
	run  func(*work) error
}

// Lower runs the lowering passes over p and assembles the edge program. Operators the
// edge runtime cannot execute fail the whole lowering; no partial program is returned.
func Lower(p *capture.Program, opts Options) (*edge.Program, error) {
	if p == nil {
		return nil, convert.LoweringError(nil, "no program to lower")
	}
	passes := []pass{
		{"eliminate-identity", eliminateIdentity},
		{"fold-constants", foldConstants},
	}
	if opts.FoldBatchNorm {
		passes = append(passes, pass{"fold-batch-norm", foldBatchNorm})
	}
	passes = append(passes,
		pass{"legalize", legalize},
		pass{"eliminate-dead", eliminateDead},
		pass{"check-opset", checkOpset},
	)

	w := newWork(p)
	for _, ps := range passes {
		before := len(w.nodes)
		if err := ps.run(w); err != nil {
			log.Debug().Str("program", w.name).Str("pass", ps.name).Err(err).Msg("lower.Lower pass failed")
			return nil, err
		}
		log.Debug().
			Str("program", w.name).
			Str("pass", ps.name).
			Int("nodes_before", before).
			Int("nodes_after", len(w.nodes)).
			Msg("lower.Lower pass")
	}

	out, err := w.assemble()
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("program", out.Name).
		Str("ops", strings.Join(out.OperatorSequence(), ",")).
		Int("constants", len(out.Constants)).
		Msg("lower.Lower lowered")
	return out, nil
}

// assemble lays out the edge program: input first, constants in name order, then one
// slot per instruction result.
func (w *work) assemble() (*edge.Program, error) {
	b := edge.NewBuilder(w.name)
	b.Input(w.input.Name, w.input.Shape, w.input.DType)

	used := make(map[string]struct{})
	for _, n := range w.nodes {
		for _, in := range n.Inputs {
			used[in] = struct{}{}
		}
	}
	for _, out := range w.outputs {
		used[out] = struct{}{}
	}
	names := make([]string, 0, len(w.consts))
	for name := range w.consts {
		if _, ok := used[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b.Constant(name, w.consts[name])
	}

	for _, n := range w.nodes {
		args := make([]int, len(n.Inputs))
		for i, in := range n.Inputs {
			idx, ok := b.Lookup(in)
			if !ok {
				return nil, convert.LoweringError(nil, "value %q read by %s is never defined", in, n.Kind)
			}
			args[i] = idx
		}
		spec := w.specs[n.Outputs[0]]
		b.Emit(n.Kind, args, b.Value(n.Outputs[0], spec.Shape, spec.DType), n.Attrs)
	}
	for _, out := range w.outputs {
		idx, ok := b.Lookup(out)
		if !ok {
			return nil, convert.LoweringError(nil, "program output %q is never defined", out)
		}
		b.Output(idx)
	}
	prog := b.Program()
	if err := prog.Validate(); err != nil {
		return nil, convert.LoweringError(err, "lowered program %q is inconsistent", w.name)
	}
	return prog, nil
}
