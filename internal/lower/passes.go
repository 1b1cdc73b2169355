package lower

import (
	"github.com/danmuck/edgeexport/internal/capture"
	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/kernels"
	"github.com/danmuck/edgeexport/internal/tensor"
)

// eval-mode no-ops
var identityOps = map[string]bool{
	"aten::dropout": true,
}

func eliminateIdentity(w *work) error {
	kept := w.nodes[:0]
	for _, n := range w.nodes {
		if identityOps[n.Kind] && len(n.Inputs) == 1 {
			w.replaceUses(n.Outputs[0], n.Inputs[0])
			continue
		}
		kept = append(kept, n)
	}
	w.nodes = kept
	return nil
}

// foldConstants evaluates every node whose inputs are all constants.
func foldConstants(w *work) error {
	kept := w.nodes[:0]
	for _, n := range w.nodes {
		args, ok := w.constantArgs(n)
		if !ok {
			kept = append(kept, n)
			continue
		}
		out, err := capture.Evaluate(n, args)
		if err != nil {
			return convert.LoweringError(err, "fold %s into %q", n.Kind, n.Outputs[0])
		}
		w.consts[n.Outputs[0]] = out
	}
	w.nodes = kept
	return nil
}

func (w *work) constantArgs(n *graph.Node) ([]*tensor.Tensor, bool) {
	if len(n.Inputs) == 0 {
		return nil, false
	}
	args := make([]*tensor.Tensor, len(n.Inputs))
	for i, in := range n.Inputs {
		c, ok := w.consts[in]
		if !ok {
			return nil, false
		}
		args[i] = c
	}
	return args, true
}

// foldBatchNorm merges batch_norm into the conv2d that feeds it when the conv output
// has no other reader and every parameter involved is constant.
func foldBatchNorm(w *work) error {
	producer := make(map[string]*graph.Node, len(w.nodes))
	for _, n := range w.nodes {
		producer[n.Outputs[0]] = n
	}
	uses := graph.Uses(w.nodes, w.outputs)

	drop := make(map[*graph.Node]bool)
	for _, bn := range w.nodes {
		if bn.Kind != "aten::batch_norm" || len(bn.Inputs) != 5 {
			continue
		}
		conv := producer[bn.Inputs[0]]
		if conv == nil || conv.Kind != "aten::conv2d" || uses[conv.Outputs[0]] != 1 {
			continue
		}
		weight, ok := w.consts[conv.Inputs[1]]
		if !ok {
			continue
		}
		params, ok := w.constantArgs(&graph.Node{Inputs: bn.Inputs[1:]})
		if !ok {
			continue
		}
		outCh := weight.Shape[0]
		var bias *tensor.Tensor
		if len(conv.Inputs) > 2 {
			if bias, ok = w.consts[conv.Inputs[2]]; !ok || bias.Len() != outCh {
				continue
			}
		}
		if params[0].Len() != outCh {
			continue
		}

		scale, shift := kernels.BatchNormAffine(params[0].Data, params[1].Data, params[2].Data, params[3].Data, bn.Attrs.Float("eps", 1e-5))
		fw := weight.Clone()
		per := fw.Len() / outCh
		for o := 0; o < outCh; o++ {
			for i := o * per; i < (o+1)*per; i++ {
				fw.Data[i] *= scale[o]
			}
		}
		fb := tensor.New(tensor.Float32, tensor.Shape{outCh})
		for o := 0; o < outCh; o++ {
			var b float32
			if bias != nil {
				b = bias.Data[o]
			}
			fb.Data[o] = b*scale[o] + shift[o]
		}

		conv.Inputs = []string{
			conv.Inputs[0],
			w.addConstant(bn.Outputs[0]+".weight", fw),
			w.addConstant(bn.Outputs[0]+".bias", fb),
		}
		conv.Outputs = []string{bn.Outputs[0]}
		drop[bn] = true
	}

	kept := w.nodes[:0]
	for _, n := range w.nodes {
		if !drop[n] {
			kept = append(kept, n)
		}
	}
	w.nodes = kept
	return nil
}

// eliminateDead drops nodes whose result nobody reads, walking backwards so chains
// of dead nodes go in one pass.
func eliminateDead(w *work) error {
	live := make(map[string]bool, len(w.outputs))
	for _, out := range w.outputs {
		live[out] = true
	}
	keep := make([]bool, len(w.nodes))
	for i := len(w.nodes) - 1; i >= 0; i-- {
		n := w.nodes[i]
		if !live[n.Outputs[0]] {
			continue
		}
		keep[i] = true
		for _, in := range n.Inputs {
			live[in] = true
		}
	}
	kept := w.nodes[:0]
	for i, n := range w.nodes {
		if keep[i] {
			kept = append(kept, n)
		}
	}
	w.nodes = kept
	for name := range w.consts {
		if !live[name] {
			delete(w.consts, name)
		}
	}
	return nil
}
