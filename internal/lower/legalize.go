package lower

import (
	"sort"
	"strings"

	"github.com/danmuck/edgeexport/internal/capture"
	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/edge"
	"github.com/danmuck/edgeexport/internal/graph"
)

// rule maps a traced operator onto an edge operator and its attributes.
type rule struct {
	op    string
	attrs func(graph.Attrs) graph.Attrs
}

func keep(names ...string) func(graph.Attrs) graph.Attrs {
	return func(a graph.Attrs) graph.Attrs {
		out := make(graph.Attrs, len(names))
		for _, name := range names {
			if v, ok := a[name]; ok {
				out[name] = v
			}
		}
		return out
	}
}

var legalizations = map[string]rule{
	"aten::conv2d":              {"conv2d", keep("stride", "padding", "dilation", "groups")},
	"aten::relu":                {"relu", keep()},
	"aten::hardtanh":            {"clamp", capture.HardtanhBounds},
	"aten::sigmoid":             {"sigmoid", keep()},
	"aten::tanh":                {"tanh", keep()},
	"aten::batch_norm":          {"batch_norm", keep("eps")},
	"aten::max_pool2d":          {"max_pool2d", keep("kernel_size", "stride", "padding")},
	"aten::avg_pool2d":          {"avg_pool2d", keep("kernel_size", "stride", "padding")},
	"aten::adaptive_avg_pool2d": {"adaptive_avg_pool2d", keep("output_size")},
	"aten::flatten":             {"flatten", keep("start_dim", "end_dim")},
	"aten::linear":              {"linear", keep()},
	"aten::add":                 {"add", keep()},
	"aten::mul":                 {"mul", keep()},
	"aten::softmax":             {"softmax", keep("dim")},
}

// Legalizable reports whether a traced operator has an edge lowering.
func Legalizable(kind string) bool {
	r, ok := legalizations[kind]
	return ok && edge.Supported(r.op)
}

// legalize rewrites nodes into edge operators. Nodes without a rule keep their traced
// kind so the opset check can report them after dead code is gone.
func legalize(w *work) error {
	for _, n := range w.nodes {
		r, ok := legalizations[n.Kind]
		if !ok {
			continue
		}
		n.Kind = r.op
		n.Attrs = r.attrs(n.Attrs)
	}
	return nil
}

func checkOpset(w *work) error {
	bad := make(map[string]struct{})
	for _, n := range w.nodes {
		if !edge.Supported(n.Kind) {
			bad[n.Kind] = struct{}{}
		}
	}
	if len(bad) == 0 {
		return nil
	}
	ops := make([]string, 0, len(bad))
	for op := range bad {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return convert.LoweringError(nil, "unsupported operators for the edge runtime: %s", strings.Join(ops, ", "))
}
