// Package samples builds small traced programs for demos and tests. Weights come from
// a seeded generator so every build of a sample is identical.
package samples

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/danmuck/edgeexport/internal/trace"
)

type Builder func(seed uint64) *trace.Module

var builders = map[string]Builder{
	"conv-relu":      ConvReLU,
	"classifier":     Classifier,
	"data-dependent": DataDependent,
	"unsupported":    Unsupported,
}

func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Build(name string, seed uint64) (*trace.Module, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("samples: unknown sample %q (have %v)", name, Names())
	}
	return b(seed), nil
}

func weights(rng *rand.Rand, shape tensor.Shape, scale float32) *tensor.Tensor {
	t := tensor.New(tensor.Float32, shape)
	for i := range t.Data {
		t.Data[i] = (rng.Float32()*2 - 1) * scale
	}
	return t
}

func positive(rng *rand.Rand, shape tensor.Shape) *tensor.Tensor {
	t := tensor.New(tensor.Float32, shape)
	for i := range t.Data {
		t.Data[i] = 0.5 + rng.Float32()
	}
	return t
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ConvReLU computes y = relu(conv2d(x)) for x of shape (1,3,224,224).
func ConvReLU(seed uint64) *trace.Module {
	rng := newRand(seed)
	return &trace.Module{
		Name:     "conv-relu",
		Training: true,
		Params: map[string]*tensor.Tensor{
			"conv.weight": weights(rng, tensor.Shape{8, 3, 3, 3}, 0.5),
			"conv.bias":   weights(rng, tensor.Shape{8}, 0.1),
		},
		Graph: &graph.Graph{
			Inputs:  []string{"x"},
			Outputs: []string{"y"},
			Nodes: []*graph.Node{
				{
					Kind:    "aten::conv2d",
					Inputs:  []string{"x", "conv.weight", "conv.bias"},
					Outputs: []string{"conv"},
					Attrs: graph.Attrs{
						"stride":   graph.Ints(1, 1),
						"padding":  graph.Ints(1, 1),
						"dilation": graph.Ints(1, 1),
						"groups":   graph.Int(1),
					},
				},
				{Kind: "aten::relu", Inputs: []string{"conv"}, Outputs: []string{"y"}},
			},
		},
	}
}

// Classifier is a three-class image head: conv, batch norm, relu6, dropout, pooling
// chosen by a constant flag, and a linear layer whose weight is scaled by a constant.
func Classifier(seed uint64) *trace.Module {
	rng := newRand(seed)
	return &trace.Module{
		Name:     "classifier",
		Training: true,
		Params: map[string]*tensor.Tensor{
			"features.0.weight":       weights(rng, tensor.Shape{16, 3, 3, 3}, 0.4),
			"features.0.bias":         weights(rng, tensor.Shape{16}, 0.1),
			"features.1.weight":       positive(rng, tensor.Shape{16}),
			"features.1.bias":         weights(rng, tensor.Shape{16}, 0.2),
			"features.1.running_mean": weights(rng, tensor.Shape{16}, 0.3),
			"features.1.running_var":  positive(rng, tensor.Shape{16}),
			"fc.weight":               weights(rng, tensor.Shape{3, 16}, 0.6),
			"fc.bias":                 weights(rng, tensor.Shape{3}, 0.1),
		},
		Graph: &graph.Graph{
			Inputs:  []string{"image"},
			Outputs: []string{"probs"},
			Nodes: []*graph.Node{
				{
					Kind:    "aten::conv2d",
					Inputs:  []string{"image", "features.0.weight", "features.0.bias"},
					Outputs: []string{"c0"},
					Attrs:   graph.Attrs{"stride": graph.Ints(2, 2), "padding": graph.Ints(1, 1)},
				},
				{
					Kind: "aten::batch_norm",
					Inputs: []string{
						"c0", "features.1.weight", "features.1.bias",
						"features.1.running_mean", "features.1.running_var",
					},
					Outputs: []string{"b0"},
					Attrs:   graph.Attrs{"eps": graph.Float(1e-5), "momentum": graph.Float(0.1)},
				},
				{
					Kind:    "aten::hardtanh",
					Inputs:  []string{"b0"},
					Outputs: []string{"a0"},
					Attrs:   graph.Attrs{"min_val": graph.Float(0), "max_val": graph.Float(6)},
				},
				{Kind: "aten::dropout", Inputs: []string{"a0"}, Outputs: []string{"d0"}, Attrs: graph.Attrs{"p": graph.Float(0.2)}},
				{Kind: "prim::Constant", Outputs: []string{"use_max_pool"}, Attrs: graph.Attrs{"value": graph.Int(1), "dtype": graph.String("bool")}},
				{
					Kind:    "prim::If",
					Inputs:  []string{"use_max_pool"},
					Outputs: []string{"p0"},
					Blocks: []*graph.Block{
						{
							Nodes: []*graph.Node{{
								Kind:    "aten::max_pool2d",
								Inputs:  []string{"d0"},
								Outputs: []string{"mp"},
								Attrs:   graph.Attrs{"kernel_size": graph.Ints(2, 2)},
							}},
							Outputs: []string{"mp"},
						},
						{
							Nodes: []*graph.Node{{
								Kind:    "aten::avg_pool2d",
								Inputs:  []string{"d0"},
								Outputs: []string{"ap"},
								Attrs:   graph.Attrs{"kernel_size": graph.Ints(2, 2)},
							}},
							Outputs: []string{"ap"},
						},
					},
				},
				{Kind: "aten::adaptive_avg_pool2d", Inputs: []string{"p0"}, Outputs: []string{"g0"}, Attrs: graph.Attrs{"output_size": graph.Ints(1, 1)}},
				{Kind: "aten::flatten", Inputs: []string{"g0"}, Outputs: []string{"f0"}, Attrs: graph.Attrs{"start_dim": graph.Int(1)}},
				{Kind: "prim::Constant", Outputs: []string{"fc_scale"}, Attrs: graph.Attrs{"value": graph.Float(0.5)}},
				{Kind: "aten::mul", Inputs: []string{"fc.weight", "fc_scale"}, Outputs: []string{"fc_w"}},
				{Kind: "aten::linear", Inputs: []string{"f0", "fc_w", "fc.bias"}, Outputs: []string{"logits"}},
				{Kind: "aten::softmax", Inputs: []string{"logits"}, Outputs: []string{"probs"}, Attrs: graph.Attrs{"dim": graph.Int(1)}},
			},
		},
	}
}

// DataDependent branches on the sum of its input, which static capture cannot resolve.
func DataDependent(seed uint64) *trace.Module {
	_ = seed
	return &trace.Module{
		Name:   "data-dependent",
		Params: map[string]*tensor.Tensor{},
		Graph: &graph.Graph{
			Inputs:  []string{"x"},
			Outputs: []string{"y"},
			Nodes: []*graph.Node{
				{Kind: "aten::sum", Inputs: []string{"x"}, Outputs: []string{"total"}},
				{Kind: "prim::Constant", Outputs: []string{"zero"}, Attrs: graph.Attrs{"value": graph.Float(0)}},
				{Kind: "aten::gt", Inputs: []string{"total", "zero"}, Outputs: []string{"positive"}},
				{
					Kind:    "prim::If",
					Inputs:  []string{"positive"},
					Outputs: []string{"y"},
					Blocks: []*graph.Block{
						{Nodes: []*graph.Node{{Kind: "aten::relu", Inputs: []string{"x"}, Outputs: []string{"r"}}}, Outputs: []string{"r"}},
						{Nodes: []*graph.Node{{Kind: "aten::sigmoid", Inputs: []string{"x"}, Outputs: []string{"s"}}}, Outputs: []string{"s"}},
					},
				},
			},
		},
	}
}

// Unsupported ends in a cumulative sum, which the edge runtime does not implement.
func Unsupported(seed uint64) *trace.Module {
	m := ConvReLU(seed)
	m.Name = "unsupported"
	g := m.Graph.Clone()
	g.Nodes[1].Outputs = []string{"r"}
	g.Nodes = append(g.Nodes, &graph.Node{
		Kind:    "aten::cumsum",
		Inputs:  []string{"r"},
		Outputs: []string{"y"},
		Attrs:   graph.Attrs{"dim": graph.Int(1)},
	})
	m.Graph = g
	return m
}
