// Package capture re-captures a traced module as a flat, shape-specialized Program by
// running it once on a calibration input and recording what each operator did.
package capture

import (
	"strconv"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/danmuck/edgeexport/internal/trace"
	"github.com/rs/zerolog/log"
)

const (
	kindConstant = "prim::Constant"
	kindIf       = "prim::If"
)

// slot is a traced value bound in the current scope.
type slot struct {
	name    string // name in the captured program
	value   *tensor.Tensor
	dynamic bool // depends on the program input
}

type scope map[string]slot

func (s scope) child() scope {
	out := make(scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

type capturer struct {
	m      *trace.Module
	strict bool // reject input-dependent branches
	params map[string]bool
	prog   *Program
}

// Capture runs m once against cal and returns the captured program. The module must be
// in evaluation mode. Branches whose condition depends on the input cannot be
// specialized and fail with a capture error.
func Capture(m *trace.Module, cal Calibration) (*Program, error) {
	if err := cal.Validate(); err != nil {
		return nil, convert.CaptureError(err, "invalid calibration %s", cal)
	}
	log.Debug().Str("module", moduleName(m)).Str("calibration", cal.String()).Msg("capture.Capture")
	c, _, err := interpret(m, cal.Name, cal.Input(), true)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("module", m.Name).
		Int("nodes", len(c.prog.Nodes)).
		Int("constants", len(c.prog.Constants)).
		Str("input", c.prog.Input.String()).
		Msg("capture.Capture captured")
	return c.prog, nil
}

// Run evaluates m eagerly on x and returns its outputs. Unlike Capture, branches may
// depend on x since nothing is being specialized.
func Run(m *trace.Module, x *tensor.Tensor) ([]*tensor.Tensor, error) {
	if x == nil {
		return nil, convert.CaptureError(nil, "no input tensor")
	}
	_, env, err := interpret(m, "", x, false)
	if err != nil {
		return nil, err
	}
	outs := make([]*tensor.Tensor, len(m.Graph.Outputs))
	for i, out := range m.Graph.Outputs {
		outs[i] = env[out].value
	}
	return outs, nil
}

func moduleName(m *trace.Module) string {
	if m == nil {
		return ""
	}
	return m.Name
}

// interpret evaluates m on x. The program input is called inName, or the graph's own
// input name when inName is empty.
func interpret(m *trace.Module, inName string, x *tensor.Tensor, strict bool) (*capturer, scope, error) {
	if m == nil || m.Graph == nil {
		return nil, nil, convert.CaptureError(nil, "no module to capture")
	}
	if m.Training {
		return nil, nil, convert.CaptureError(nil, "module %q is in training mode", m.Name)
	}
	if err := m.Validate(); err != nil {
		return nil, nil, convert.CaptureError(err, "module %q is malformed", m.Name)
	}
	if len(m.Graph.Inputs) != 1 {
		return nil, nil, convert.CaptureError(nil, "module %q takes %d inputs, calibration provides 1", m.Name, len(m.Graph.Inputs))
	}

	input := m.Graph.Inputs[0]
	if inName == "" {
		inName = input
	}
	if _, clash := m.Params[inName]; clash {
		return nil, nil, convert.CaptureError(nil, "input name %q is already a parameter of module %q", inName, m.Name)
	}

	c := &capturer{
		m:      m,
		strict: strict,
		params: make(map[string]bool, len(m.Params)),
		prog: &Program{
			Name:      m.Name,
			Constants: make(map[string]*tensor.Tensor),
			Values:    make(map[string]Spec),
		},
	}
	env := make(scope, len(m.Params)+1)
	for name, p := range m.Params {
		env[name] = slot{name: name, value: p}
		c.params[name] = true
	}
	inName = c.define(inName, x)
	c.prog.Input = c.prog.Values[inName]
	env[input] = slot{name: inName, value: x, dynamic: true}

	if err := c.run(m.Graph.Nodes, env); err != nil {
		return nil, nil, err
	}
	for _, out := range m.Graph.Outputs {
		s := env[out]
		c.bindConstant(s)
		c.prog.Outputs = append(c.prog.Outputs, c.prog.Values[s.name])
	}
	return c, env, nil
}

// define records a new program value, renaming it if an inlined block reused a name.
func (c *capturer) define(name string, t *tensor.Tensor) string {
	unique := name
	for i := 1; ; i++ {
		if _, taken := c.prog.Values[unique]; !taken {
			break
		}
		unique = name + "." + strconv.Itoa(i)
	}
	c.prog.Values[unique] = Spec{Name: unique, Shape: t.Shape.Clone(), DType: t.DType}
	return unique
}

// bindConstant makes a parameter visible in the program the first time it is used.
func (c *capturer) bindConstant(s slot) {
	if !c.params[s.name] {
		return
	}
	if _, ok := c.prog.Constants[s.name]; ok {
		return
	}
	c.prog.Constants[s.name] = s.value
	c.prog.Values[s.name] = Spec{Name: s.name, Shape: s.value.Shape.Clone(), DType: s.value.DType}
}

func (c *capturer) run(nodes []*graph.Node, env scope) error {
	for _, n := range nodes {
		var err error
		switch n.Kind {
		case kindConstant:
			err = c.constant(n, env)
		case kindIf:
			err = c.branch(n, env)
		default:
			err = c.apply(n, env)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *capturer) constant(n *graph.Node, env scope) error {
	if len(n.Outputs) != 1 {
		return convert.CaptureError(nil, "%s must define one value, got %d", n.Kind, len(n.Outputs))
	}
	v, ok := n.Attrs["value"]
	if !ok {
		return convert.CaptureError(nil, "%s %q has no value", n.Kind, n.Outputs[0])
	}
	var t *tensor.Tensor
	switch {
	case n.Attrs.String("dtype", "") == "bool":
		t = tensor.BoolScalar(n.Attrs.Float("value", 0) != 0)
	case v.Kind == graph.AttrInt || v.Kind == graph.AttrFloat:
		t = tensor.Scalar(float32(n.Attrs.Float("value", 0)))
	default:
		return convert.CaptureError(nil, "%s %q: unsupported value kind", n.Kind, n.Outputs[0])
	}
	name := c.define(n.Outputs[0], t)
	c.prog.Constants[name] = t
	env[n.Outputs[0]] = slot{name: name, value: t}
	return nil
}

// branch inlines the block selected by a static condition.
func (c *capturer) branch(n *graph.Node, env scope) error {
	if len(n.Inputs) != 1 || len(n.Blocks) != 2 {
		return convert.CaptureError(nil, "%s needs one condition and two blocks", n.Kind)
	}
	cond := env[n.Inputs[0]]
	if cond.dynamic && c.strict {
		return convert.CaptureError(nil, "data-dependent control flow: condition %q depends on the input", n.Inputs[0])
	}
	taken, err := cond.value.Truthy()
	if err != nil {
		return convert.CaptureError(err, "%s condition %q", n.Kind, n.Inputs[0])
	}
	block := n.Blocks[1]
	if taken {
		block = n.Blocks[0]
	}
	log.Debug().Str("condition", n.Inputs[0]).Bool("taken", taken).Msg("capture.branch inlined")

	inner := env.child()
	if err := c.run(block.Nodes, inner); err != nil {
		return err
	}
	for i, out := range n.Outputs {
		env[out] = inner[block.Outputs[i]]
	}
	return nil
}

func (c *capturer) apply(n *graph.Node, env scope) error {
	fn, attrs, ok := kernelFor(n)
	if !ok {
		return convert.CaptureError(nil, "no capture rule for operator %s", n.Kind)
	}
	if len(n.Outputs) != 1 {
		return convert.CaptureError(nil, "%s defines %d values, want 1", n.Kind, len(n.Outputs))
	}
	args := make([]*tensor.Tensor, len(n.Inputs))
	inputs := make([]string, len(n.Inputs))
	dynamic := false
	for i, in := range n.Inputs {
		s := env[in]
		c.bindConstant(s)
		args[i] = s.value
		inputs[i] = s.name
		dynamic = dynamic || s.dynamic
	}
	out, err := fn(args, attrs)
	if err != nil {
		return convert.CaptureError(err, "operator %s rejected its inputs", n.Kind)
	}
	name := c.define(n.Outputs[0], out)
	c.prog.Nodes = append(c.prog.Nodes, &graph.Node{
		Kind:    n.Kind,
		Inputs:  inputs,
		Outputs: []string{name},
		Attrs:   n.Attrs.Clone(),
	})
	env[n.Outputs[0]] = slot{name: name, value: out, dynamic: dynamic}
	return nil
}
