package records

import (
	"errors"
	"testing"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/protocol/schema"
	"github.com/danmuck/edgeexport/internal/protocol/tlv"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/danmuck/edgeexport/internal/testutil/testlog"
)

func TestTensorRecord(t *testing.T) {
	testlog.Start(t)
	in, _ := tensor.FromData(tensor.Float32, tensor.Shape{2, 1}, []float32{1.5, -2})
	name, out, err := DecodeTensor(EncodeTensor(schema.FieldParam, "fc.bias", in))
	if err != nil {
		t.Fatalf("decode tensor: %v", err)
	}
	if name != "fc.bias" || !out.Shape.Equal(in.Shape) || out.Data[1] != -2 || out.DType != tensor.Float32 {
		t.Fatalf("unexpected tensor: name=%q %+v", name, out)
	}

	scalarName, scalar, err := DecodeTensor(EncodeTensor(schema.FieldConstant, "", tensor.BoolScalar(true)))
	if err != nil {
		t.Fatalf("decode scalar: %v", err)
	}
	if scalarName != "" || scalar.Shape.Rank() != 0 || scalar.DType != tensor.Bool {
		t.Fatalf("unexpected scalar: %+v", scalar)
	}
}

func TestTensorRecordRejectsLengthMismatch(t *testing.T) {
	testlog.Start(t)
	f := tlv.Nested(schema.FieldParam, []tlv.Field{
		tlv.U8(schema.FieldDType, uint8(tensor.Float32)),
		tlv.I64s(schema.FieldShape, []int64{3}),
		tlv.F32s(schema.FieldData, []float32{1}),
	})
	if _, _, err := DecodeTensor(f); !errors.Is(err, tensor.ErrDataLength) {
		t.Fatalf("expected ErrDataLength, got %v", err)
	}
}

func TestTensorRecordRejectsBadDimension(t *testing.T) {
	testlog.Start(t)
	f := tlv.Nested(schema.FieldParam, []tlv.Field{
		tlv.U8(schema.FieldDType, uint8(tensor.Float32)),
		tlv.I64s(schema.FieldShape, []int64{-1}),
		tlv.F32s(schema.FieldData, nil),
	})
	if _, _, err := DecodeTensor(f); err == nil {
		t.Fatalf("expected negative dimension to be rejected")
	}
}

func TestGraphRecordWithBlocks(t *testing.T) {
	testlog.Start(t)
	g := &graph.Graph{
		Inputs:  []string{"x"},
		Outputs: []string{"y"},
		Nodes: []*graph.Node{
			{Kind: "prim::Constant", Outputs: []string{"c"}, Attrs: graph.Attrs{"value": graph.Float(1)}},
			{
				Kind:    "prim::If",
				Inputs:  []string{"c"},
				Outputs: []string{"y"},
				Blocks: []*graph.Block{
					{
						Nodes: []*graph.Node{{
							Kind:    "aten::max_pool2d",
							Inputs:  []string{"x"},
							Outputs: []string{"p"},
							Attrs: graph.Attrs{
								"kernel_size": graph.Ints(2, 2),
								"ceil_mode":   graph.Int(-1),
								"mode":        graph.String("floor"),
							},
						}},
						Outputs: []string{"p"},
					},
					{Outputs: []string{"x"}},
				},
			},
		},
	}
	out, err := DecodeGraph(EncodeGraph(schema.FieldGraph, g))
	if err != nil {
		t.Fatalf("decode graph: %v", err)
	}
	if err := out.Validate(nil); err != nil {
		t.Fatalf("decoded graph invalid: %v", err)
	}
	ifNode := out.Nodes[1]
	if ifNode.Kind != "prim::If" || len(ifNode.Blocks) != 2 {
		t.Fatalf("unexpected if node: %+v", ifNode)
	}
	pool := ifNode.Blocks[0].Nodes[0]
	if !pool.Attrs["kernel_size"].Equal(graph.Ints(2, 2)) || pool.Attrs["ceil_mode"].Int != -1 || pool.Attrs["mode"].Str != "floor" {
		t.Fatalf("attrs not preserved: %+v", pool.Attrs)
	}
	if out.Nodes[0].Attrs.Float("value", 0) != 1 {
		t.Fatalf("float attr not preserved: %+v", out.Nodes[0].Attrs)
	}
	if len(ifNode.Blocks[1].Nodes) != 0 || ifNode.Blocks[1].Outputs[0] != "x" {
		t.Fatalf("empty block not preserved: %+v", ifNode.Blocks[1])
	}
}

func TestNodeRecordMissingKind(t *testing.T) {
	testlog.Start(t)
	f := tlv.Nested(schema.FieldNode, []tlv.Field{tlv.String(schema.FieldInput, "x")})
	_, err := DecodeNode(f)
	var ve schema.ValidationError
	if !errors.As(err, &ve) || ve.FieldID != schema.FieldKind {
		t.Fatalf("expected missing kind validation error, got %v", err)
	}
}

func TestEncodeAttrsIsOrderIndependent(t *testing.T) {
	testlog.Start(t)
	a := graph.Attrs{"stride": graph.Ints(1), "padding": graph.Ints(0), "groups": graph.Int(1)}
	b := graph.Attrs{"groups": graph.Int(1), "padding": graph.Ints(0), "stride": graph.Ints(1)}
	ea := tlv.EncodeFields(EncodeAttrs(schema.FieldAttr, a))
	eb := tlv.EncodeFields(EncodeAttrs(schema.FieldAttr, b))
	if string(ea) != string(eb) {
		t.Fatalf("attr encoding depends on map order")
	}
}
