package trace

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/protocol/frame"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/danmuck/edgeexport/internal/testutil/testlog"
)

func tinyModule() *Module {
	w, _ := tensor.FromData(tensor.Float32, tensor.Shape{1, 1, 1, 1}, []float32{2})
	return &Module{
		Name:     "tiny",
		Training: true,
		Params:   map[string]*tensor.Tensor{"w": w},
		Graph: &graph.Graph{
			Inputs:  []string{"x"},
			Outputs: []string{"y"},
			Nodes: []*graph.Node{
				{Kind: "aten::conv2d", Inputs: []string{"x", "w"}, Outputs: []string{"c"}, Attrs: graph.Attrs{"padding": graph.Ints(0, 0)}},
				{Kind: "aten::relu", Inputs: []string{"c"}, Outputs: []string{"y"}},
			},
		},
	}
}

func encode(t *testing.T, m *Module) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestEncodeUnmarshalRoundTrip(t *testing.T) {
	testlog.Start(t)
	buf := encode(t, tinyModule())
	m, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Name != "tiny" || !m.Training {
		t.Fatalf("unexpected module header: %q training=%v", m.Name, m.Training)
	}
	if got := m.Params["w"]; got == nil || got.Data[0] != 2 {
		t.Fatalf("param lost: %#v", got)
	}
	if len(m.Graph.Nodes) != 2 || m.Graph.Nodes[0].Attrs.Ints("padding", 2, 9)[0] != 0 {
		t.Fatalf("graph lost: %#v", m.Graph.Nodes)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	testlog.Start(t)
	m := tinyModule()
	b, _ := tensor.FromData(tensor.Float32, tensor.Shape{1}, []float32{1})
	m.Params["b"] = b
	m.Graph.Nodes[0].Inputs = append(m.Graph.Nodes[0].Inputs, "b")
	first := encode(t, m)
	for i := 0; i < 8; i++ {
		if !bytes.Equal(first, encode(t, m)) {
			t.Fatalf("encoding differs on run %d", i)
		}
	}
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	testlog.Start(t)
	buf := encode(t, tinyModule())
	binary.BigEndian.PutUint32(buf[0:4], 0xdeadbeef)
	if _, err := Unmarshal(buf); !errors.Is(err, frame.ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	testlog.Start(t)
	buf := encode(t, tinyModule())
	if _, err := Unmarshal(buf[:len(buf)-3]); err == nil {
		t.Fatalf("expected truncated container to fail")
	}
}

func TestEncodeRejectsDanglingReference(t *testing.T) {
	testlog.Start(t)
	m := tinyModule()
	m.Graph.Nodes[1].Inputs = []string{"missing"}
	var buf bytes.Buffer
	if err := Encode(&buf, m); !errors.Is(err, graph.ErrUndefinedValue) {
		t.Fatalf("expected ErrUndefinedValue, got %v", err)
	}
}

func TestEvalReturnsCopy(t *testing.T) {
	m := tinyModule()
	e := m.Eval()
	if e.Training || !m.Training {
		t.Fatalf("eval must clear training on a copy only")
	}
	if !e.Train().Training {
		t.Fatalf("train must set training")
	}
}
