// Package tensor holds the dense value type shared by capture, lowering and the
// edge runtime. Data is always stored as float32 in row-major (NCHW) order; boolean
// tensors store 0 or 1.
package tensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type DType uint8

const (
	Invalid DType = iota
	Float32
	Bool
)

var (
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
	ErrDataLength    = errors.New("tensor: data length does not match shape")
	ErrUnknownDType  = errors.New("tensor: unknown dtype")
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Bool:
		return "bool"
	default:
		return "invalid"
	}
}

func ParseDType(raw string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "float32", "float", "f32":
		return Float32, nil
	case "bool":
		return Bool, nil
	default:
		return Invalid, fmt.Errorf("%w: %q", ErrUnknownDType, raw)
	}
}

// Shape lists dimension sizes outermost first. The empty shape is a scalar.
type Shape []int

func (s Shape) Rank() int { return len(s) }

func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) Valid() bool {
	for _, d := range s {
		if d <= 0 {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Tensor is a dense value. Callers treat a Tensor as immutable once shared.
type Tensor struct {
	DType DType
	Shape Shape
	Data  []float32
}

// New returns a zero-filled tensor.
func New(dt DType, shape Shape) *Tensor {
	return &Tensor{DType: dt, Shape: shape.Clone(), Data: make([]float32, shape.NumElements())}
}

// FromData wraps data without copying it.
func FromData(dt DType, shape Shape, data []float32) (*Tensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("%w: shape=%s len=%d", ErrDataLength, shape, len(data))
	}
	return &Tensor{DType: dt, Shape: shape.Clone(), Data: data}, nil
}

func Scalar(v float32) *Tensor {
	return &Tensor{DType: Float32, Shape: Shape{}, Data: []float32{v}}
}

func BoolScalar(v bool) *Tensor {
	t := &Tensor{DType: Bool, Shape: Shape{}, Data: []float32{0}}
	if v {
		t.Data[0] = 1
	}
	return t
}

func (t *Tensor) Len() int { return len(t.Data) }

func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{DType: t.DType, Shape: t.Shape.Clone(), Data: data}
}

// Truthy reports whether a one-element tensor is non-zero.
func (t *Tensor) Truthy() (bool, error) {
	if len(t.Data) != 1 {
		return false, fmt.Errorf("%w: condition must have one element, got shape %s", ErrShapeMismatch, t.Shape)
	}
	return t.Data[0] != 0, nil
}

// MaxAbsDiff returns the largest element-wise absolute difference.
func MaxAbsDiff(a, b *Tensor) (float64, error) {
	if !a.Shape.Equal(b.Shape) {
		return 0, fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, a.Shape, b.Shape)
	}
	var worst float64
	for i := range a.Data {
		d := math.Abs(float64(a.Data[i]) - float64(b.Data[i]))
		if math.IsNaN(d) {
			return math.Inf(1), nil
		}
		if d > worst {
			worst = d
		}
	}
	return worst, nil
}

func AllClose(a, b *Tensor, tol float64) bool {
	d, err := MaxAbsDiff(a, b)
	return err == nil && d <= tol
}
