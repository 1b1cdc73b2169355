package capture

import (
	"errors"
	"testing"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/samples"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/danmuck/edgeexport/internal/testutil/testlog"
)

func TestCaptureConvReLU(t *testing.T) {
	testlog.Start(t)
	m := samples.ConvReLU(7).Eval()
	p, err := Capture(m, DefaultCalibration())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(p.Nodes) != 2 || p.Nodes[0].Kind != "aten::conv2d" || p.Nodes[1].Kind != "aten::relu" {
		t.Fatalf("unexpected nodes: %v", p.Operators())
	}
	if !p.Input.Shape.Equal(tensor.Shape{1, 3, 224, 224}) || p.Input.DType != tensor.Float32 {
		t.Fatalf("unexpected input contract %s", p.Input)
	}
	if len(p.Outputs) != 1 || !p.Outputs[0].Shape.Equal(tensor.Shape{1, 8, 224, 224}) {
		t.Fatalf("unexpected outputs %v", p.Outputs)
	}
	if _, ok := p.Constants["conv.weight"]; !ok {
		t.Fatalf("referenced parameter missing from constants: %v", p.ConstantNames())
	}
}

func TestCaptureInlinesStaticBranch(t *testing.T) {
	testlog.Start(t)
	p, err := Capture(samples.Classifier(3).Eval(), DefaultCalibration())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	for _, n := range p.Nodes {
		switch n.Kind {
		case "prim::If", "prim::Constant", "aten::avg_pool2d":
			t.Fatalf("unexpected node after capture: %s", n.Kind)
		}
	}
	found := false
	for _, n := range p.Nodes {
		found = found || n.Kind == "aten::max_pool2d"
	}
	if !found {
		t.Fatalf("taken branch not inlined: %v", p.Operators())
	}
	if !p.Outputs[0].Shape.Equal(tensor.Shape{1, 3}) {
		t.Fatalf("unexpected output shape %s", p.Outputs[0].Shape)
	}
}

func TestCaptureRejectsDataDependentBranch(t *testing.T) {
	testlog.Start(t)
	_, err := Capture(samples.DataDependent(0).Eval(), DefaultCalibration())
	if !errors.Is(err, convert.ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", err)
	}
}

func TestCaptureRejectsTrainingMode(t *testing.T) {
	testlog.Start(t)
	_, err := Capture(samples.ConvReLU(1), DefaultCalibration())
	if !errors.Is(err, convert.ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", err)
	}
}

func TestCaptureRejectsCalibrationMismatch(t *testing.T) {
	testlog.Start(t)
	cal := DefaultCalibration()
	cal.Shape = tensor.Shape{1, 4, 16, 16}
	if _, err := Capture(samples.ConvReLU(1).Eval(), cal); !errors.Is(err, convert.ErrCapture) {
		t.Fatalf("expected channel mismatch to fail capture, got %v", err)
	}
	cal = DefaultCalibration()
	cal.DType = tensor.Bool
	if _, err := Capture(samples.ConvReLU(1).Eval(), cal); !errors.Is(err, convert.ErrCapture) {
		t.Fatalf("expected dtype mismatch to fail capture, got %v", err)
	}
}

func TestCaptureRejectsUnknownOperator(t *testing.T) {
	testlog.Start(t)
	m := samples.ConvReLU(1).Eval()
	g := m.Graph.Clone()
	g.Nodes[1].Kind = "aten::gelu"
	m.Graph = g
	_, err := Capture(m, DefaultCalibration())
	if !errors.Is(err, convert.ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", err)
	}
}

func TestCaptureRejectsZeroPoolStride(t *testing.T) {
	testlog.Start(t)
	m := samples.ConvReLU(1).Eval()
	g := m.Graph.Clone()
	g.Nodes[1].Outputs = []string{"r"}
	g.Nodes = append(g.Nodes, &graph.Node{
		Kind:    "aten::max_pool2d",
		Inputs:  []string{"r"},
		Outputs: []string{"y"},
		Attrs:   graph.Attrs{"kernel_size": graph.Ints(2, 2), "stride": graph.Ints(2, 0)},
	})
	m.Graph = g
	cal := DefaultCalibration()
	cal.Shape = tensor.Shape{1, 3, 8, 8}
	if _, err := Capture(m, cal); !errors.Is(err, convert.ErrCapture) {
		t.Fatalf("expected ErrCapture, got %v", err)
	}
}

func TestCaptureNamesInputFromCalibration(t *testing.T) {
	testlog.Start(t)
	m := samples.ConvReLU(1).Eval()
	cal := DefaultCalibration()
	cal.Name = "image"
	cal.Shape = tensor.Shape{1, 3, 8, 8}
	p, err := Capture(m, cal)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if p.Input.Name != "image" {
		t.Fatalf("expected input named image, got %s", p.Input)
	}
	if p.Nodes[0].Inputs[0] != "image" {
		t.Fatalf("conv reads %q, want image", p.Nodes[0].Inputs[0])
	}

	cal.Name = ""
	if p, err = Capture(m, cal); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if p.Input.Name != "x" {
		t.Fatalf("empty calibration name must keep the traced input name, got %s", p.Input)
	}

	cal.Name = "conv.weight"
	if _, err := Capture(m, cal); !errors.Is(err, convert.ErrCapture) {
		t.Fatalf("expected parameter name clash to fail capture, got %v", err)
	}
}

func TestCaptureRenamesShadowedBlockValues(t *testing.T) {
	testlog.Start(t)
	m := samples.ConvReLU(1).Eval()
	g := m.Graph.Clone()
	// The taken block defines "r", and so does a later top-level node.
	g.Nodes = []*graph.Node{
		{Kind: "prim::Constant", Outputs: []string{"flag"}, Attrs: graph.Attrs{"value": graph.Int(1), "dtype": graph.String("bool")}},
		{
			Kind:    "prim::If",
			Inputs:  []string{"flag"},
			Outputs: []string{"a"},
			Blocks: []*graph.Block{
				{Nodes: []*graph.Node{{Kind: "aten::relu", Inputs: []string{"x"}, Outputs: []string{"r"}}}, Outputs: []string{"r"}},
				{Nodes: []*graph.Node{{Kind: "aten::tanh", Inputs: []string{"x"}, Outputs: []string{"r"}}}, Outputs: []string{"r"}},
			},
		},
		{Kind: "aten::sigmoid", Inputs: []string{"a"}, Outputs: []string{"r"}},
		{Kind: "aten::add", Inputs: []string{"r", "a"}, Outputs: []string{"y"}},
	}
	m.Graph = g
	p, err := Capture(m, Calibration{Name: "x", Shape: tensor.Shape{1, 2}, DType: tensor.Float32, Seed: 9})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(p.Nodes) != 3 {
		t.Fatalf("expected relu, sigmoid, add; got %v", p.Operators())
	}
	add := p.Nodes[2]
	if add.Inputs[0] == add.Inputs[1] {
		t.Fatalf("shadowed value collapsed: %v", add.Inputs)
	}
}

func TestProgramRunMatchesCapture(t *testing.T) {
	testlog.Start(t)
	cal := DefaultCalibration()
	cal.Shape = tensor.Shape{1, 3, 32, 32}
	p, err := Capture(samples.Classifier(5).Eval(), cal)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	outs, err := p.Run(cal.Input())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var total float32
	for _, v := range outs[0].Data {
		total += v
	}
	if total < 0.999 || total > 1.001 {
		t.Fatalf("softmax output does not sum to one: %v", outs[0].Data)
	}
	if _, err := p.Run(tensor.New(tensor.Float32, tensor.Shape{1, 3, 8, 8})); err == nil {
		t.Fatalf("expected contract mismatch to fail")
	}
}

func TestCalibrationInputDeterministic(t *testing.T) {
	a := DefaultCalibration().Input()
	b := DefaultCalibration().Input()
	if !tensor.AllClose(a, b, 0) {
		t.Fatalf("calibration input not deterministic")
	}
	other := DefaultCalibration()
	other.Seed = 2
	if tensor.AllClose(a, other.Input(), 0) {
		t.Fatalf("seed has no effect")
	}
}

func TestRunFollowsDataDependentBranch(t *testing.T) {
	testlog.Start(t)
	m := samples.DataDependent(0).Eval()
	pos, _ := tensor.FromData(tensor.Float32, tensor.Shape{1, 3}, []float32{2, -1, 1})
	neg, _ := tensor.FromData(tensor.Float32, tensor.Shape{1, 3}, []float32{-2, 1, -1})

	outs, err := Run(m, pos)
	if err != nil {
		t.Fatalf("run positive: %v", err)
	}
	if outs[0].Data[1] != 0 {
		t.Fatalf("positive sum should take the relu branch: %v", outs[0].Data)
	}
	outs, err = Run(m, neg)
	if err != nil {
		t.Fatalf("run negative: %v", err)
	}
	if outs[0].Data[0] <= 0 || outs[0].Data[0] >= 0.5 {
		t.Fatalf("negative sum should take the sigmoid branch: %v", outs[0].Data)
	}
}
