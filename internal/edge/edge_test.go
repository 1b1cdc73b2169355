package edge

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/protocol/frame"
	"github.com/danmuck/edgeexport/internal/tensor"
	"github.com/danmuck/edgeexport/internal/testutil/testlog"
)

// scaleReLU computes relu(x * 2 + bias) on a (1,2) input.
func scaleReLU(t *testing.T) *Program {
	t.Helper()
	b := NewBuilder("scale-relu")
	x := b.Input("x", tensor.Shape{1, 2}, tensor.Float32)
	two := b.Constant("two", tensor.Scalar(2))
	bias, err := tensor.FromData(tensor.Float32, tensor.Shape{2}, []float32{-1, 0.5})
	if err != nil {
		t.Fatalf("bias: %v", err)
	}
	bi := b.Constant("bias", bias)
	m := b.Value("m", tensor.Shape{1, 2}, tensor.Float32)
	b.Emit("mul", []int{x, two}, m, nil)
	a := b.Value("a", tensor.Shape{1, 2}, tensor.Float32)
	b.Emit("add", []int{m, bi}, a, nil)
	y := b.Value("y", tensor.Shape{1, 2}, tensor.Float32)
	b.Emit("clamp", []int{a}, y, graph.Attrs{"min": graph.Float(0), "max": graph.Float(1.5)})
	b.Output(y)
	return b.Program()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	p := scaleReLU(t)
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != p.Name || len(got.Chain) != 3 || len(got.Constants) != 2 {
		t.Fatalf("unexpected program: %#v", got)
	}
	if seq := got.OperatorSequence(); seq[0] != "mul" || seq[2] != "clamp" {
		t.Fatalf("unexpected sequence %v", seq)
	}
	id, err := ProgramID(buf)
	if err != nil || id != got.ID {
		t.Fatalf("program id mismatch: %v %v %v", id, got.ID, err)
	}
	if got.Chain[2].Attrs.Float("max", 0) != 1.5 {
		t.Fatalf("attrs lost: %#v", got.Chain[2].Attrs)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	testlog.Start(t)
	a, err := Encode(scaleReLU(t))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := Encode(scaleReLU(t))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("same program encoded differently")
	}
	p := scaleReLU(t)
	p.Name = "renamed"
	c, _ := Encode(p)
	ida, _ := ProgramID(a)
	idc, _ := ProgramID(c)
	if ida == idc {
		t.Fatalf("different programs share an id")
	}
}

func TestDecodeRejectsTamperedBody(t *testing.T) {
	testlog.Start(t)
	buf, err := Encode(scaleReLU(t))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf[len(buf)-1] ^= 0xff
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected tampered artifact to fail")
	}
	buf[0] = 'X'
	if _, err := Decode(buf); !errors.Is(err, frame.ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestEncodeRejectsUnsupportedOperator(t *testing.T) {
	testlog.Start(t)
	b := NewBuilder("bad")
	x := b.Input("x", tensor.Shape{3}, tensor.Float32)
	y := b.Value("y", tensor.Shape{3}, tensor.Float32)
	b.Emit("cumsum", []int{x}, y, nil)
	b.Output(y)
	_, err := Encode(b.Program())
	if !errors.Is(err, convert.ErrSerialization) || !errors.Is(err, ErrUnsupportedOp) {
		t.Fatalf("expected serialization error wrapping ErrUnsupportedOp, got %v", err)
	}
}

func TestValidateCatchesUseBeforeDefinition(t *testing.T) {
	p := scaleReLU(t)
	p.Chain[0], p.Chain[1] = p.Chain[1], p.Chain[0]
	if err := p.Validate(); !errors.Is(err, ErrUndefined) {
		t.Fatalf("expected ErrUndefined, got %v", err)
	}
}

func TestExecute(t *testing.T) {
	testlog.Start(t)
	x, _ := tensor.FromData(tensor.Float32, tensor.Shape{1, 2}, []float32{0.25, 1})
	outs, err := Execute(scaleReLU(t), x)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// 0.25*2-1 = -0.5 -> 0; 1*2+0.5 = 2.5 -> 1.5
	if outs[0].Data[0] != 0 || outs[0].Data[1] != 1.5 {
		t.Fatalf("unexpected output %v", outs[0].Data)
	}
	if _, err := Execute(scaleReLU(t), tensor.New(tensor.Float32, tensor.Shape{2, 2})); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
}

func TestSupportedOpsSorted(t *testing.T) {
	ops := SupportedOps()
	for i := 1; i < len(ops); i++ {
		if ops[i-1] >= ops[i] {
			t.Fatalf("ops not sorted: %v", ops)
		}
	}
	if Supported("cumsum") || !Supported("conv2d") {
		t.Fatalf("unexpected operator support")
	}
}

func TestWriteFileReplaces(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "model.pte")
	if err := WriteFile(path, []byte("first")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFile(path, []byte("second")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "second" {
		t.Fatalf("unexpected contents %q %v", got, err)
	}
	assertNoTemps(t, filepath.Dir(path))
}

func TestCreateFileRefusesExisting(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "model.pte")
	if err := CreateFile(path, []byte("first")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := CreateFile(path, []byte("second"))
	if !errors.Is(err, convert.ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "first" {
		t.Fatalf("existing artifact changed: %q", got)
	}
	assertNoTemps(t, filepath.Dir(path))
}

func TestWriteFileMissingDirectory(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "missing", "model.pte")
	if err := WriteFile(path, []byte("data")); !errors.Is(err, convert.ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("no artifact expected, stat err=%v", err)
	}
}

func assertNoTemps(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the artifact, found %v", names)
	}
}
