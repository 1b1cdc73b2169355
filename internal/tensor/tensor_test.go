package tensor

import (
	"errors"
	"math"
	"testing"
)

func TestShapeBasics(t *testing.T) {
	s := Shape{1, 3, 224, 224}
	if s.NumElements() != 150528 {
		t.Fatalf("unexpected element count: %d", s.NumElements())
	}
	if s.String() != "(1,3,224,224)" {
		t.Fatalf("unexpected string: %s", s)
	}
	if !s.Valid() || (Shape{1, 0}).Valid() {
		t.Fatalf("unexpected validity")
	}
	if (Shape{}).NumElements() != 1 {
		t.Fatalf("scalar must hold one element")
	}
	c := s.Clone()
	c[0] = 9
	if s[0] != 1 {
		t.Fatalf("clone aliases source")
	}
}

func TestFromDataRejectsLengthMismatch(t *testing.T) {
	_, err := FromData(Float32, Shape{2, 2}, []float32{1, 2, 3})
	if !errors.Is(err, ErrDataLength) {
		t.Fatalf("expected ErrDataLength, got %v", err)
	}
}

func TestParseDType(t *testing.T) {
	dt, err := ParseDType(" Float32 ")
	if err != nil || dt != Float32 {
		t.Fatalf("unexpected dtype %v err=%v", dt, err)
	}
	if _, err := ParseDType("int8"); !errors.Is(err, ErrUnknownDType) {
		t.Fatalf("expected ErrUnknownDType, got %v", err)
	}
}

func TestMaxAbsDiff(t *testing.T) {
	a, _ := FromData(Float32, Shape{3}, []float32{1, 2, 3})
	b, _ := FromData(Float32, Shape{3}, []float32{1, 2.5, 2})
	d, err := MaxAbsDiff(a, b)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if d != 1 {
		t.Fatalf("unexpected diff: %v", d)
	}
	if AllClose(a, b, 0.5) || !AllClose(a, b, 1) {
		t.Fatalf("unexpected AllClose result")
	}

	n, _ := FromData(Float32, Shape{3}, []float32{1, float32(math.NaN()), 3})
	d, _ = MaxAbsDiff(a, n)
	if !math.IsInf(d, 1) {
		t.Fatalf("NaN must compare as infinitely far, got %v", d)
	}

	c, _ := FromData(Float32, Shape{1, 3}, []float32{1, 2, 3})
	if _, err := MaxAbsDiff(a, c); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestTruthy(t *testing.T) {
	if v, err := BoolScalar(true).Truthy(); err != nil || !v {
		t.Fatalf("expected true, got %v err=%v", v, err)
	}
	if _, err := New(Float32, Shape{2}).Truthy(); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
