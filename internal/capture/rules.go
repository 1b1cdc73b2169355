package capture

import (
	"fmt"
	"sort"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/kernels"
	"github.com/danmuck/edgeexport/internal/tensor"
)

// rule binds a traced operator to the reference kernel that evaluates it.
type rule struct {
	kernel string
	attrs  func(graph.Attrs) graph.Attrs
}

var rules = map[string]rule{
	"aten::conv2d":              {kernel: "conv2d"},
	"aten::relu":                {kernel: "relu"},
	"aten::hardtanh":            {kernel: "clamp", attrs: HardtanhBounds},
	"aten::sigmoid":             {kernel: "sigmoid"},
	"aten::tanh":                {kernel: "tanh"},
	"aten::batch_norm":          {kernel: "batch_norm"},
	"aten::dropout":             {kernel: "identity"},
	"aten::max_pool2d":          {kernel: "max_pool2d"},
	"aten::avg_pool2d":          {kernel: "avg_pool2d"},
	"aten::adaptive_avg_pool2d": {kernel: "adaptive_avg_pool2d"},
	"aten::flatten":             {kernel: "flatten"},
	"aten::linear":              {kernel: "linear"},
	"aten::add":                 {kernel: "add"},
	"aten::mul":                 {kernel: "mul"},
	"aten::softmax":             {kernel: "softmax"},
	"aten::cumsum":              {kernel: "cumsum"},
	"aten::sum":                 {kernel: "sum"},
	"aten::gt":                  {kernel: "gt"},
}

// HardtanhBounds maps hardtanh's min_val/max_val (default -1, 1) onto clamp bounds.
func HardtanhBounds(a graph.Attrs) graph.Attrs {
	return graph.Attrs{
		"min": graph.Float(a.Float("min_val", -1)),
		"max": graph.Float(a.Float("max_val", 1)),
	}
}

// Operators lists the traced operators capture can evaluate, excluding prim:: forms.
func Operators() []string {
	out := make([]string, 0, len(rules))
	for kind := range rules {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

func kernelFor(n *graph.Node) (kernels.Func, graph.Attrs, bool) {
	r, ok := rules[n.Kind]
	if !ok {
		return nil, nil, false
	}
	fn, ok := kernels.Lookup(r.kernel)
	if !ok {
		return nil, nil, false
	}
	attrs := n.Attrs
	if r.attrs != nil {
		attrs = r.attrs(n.Attrs)
	}
	return fn, attrs, true
}

// Evaluate applies the reference kernel for a traced node to concrete arguments.
func Evaluate(n *graph.Node, args []*tensor.Tensor) (*tensor.Tensor, error) {
	fn, attrs, ok := kernelFor(n)
	if !ok {
		return nil, fmt.Errorf("capture: no kernel for %s", n.Kind)
	}
	return fn(args, attrs)
}
