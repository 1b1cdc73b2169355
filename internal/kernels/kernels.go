// Package kernels is the float32 reference implementation of every operator the
// converter understands. Capture, constant folding and the edge runtime all evaluate
// through the same kernels so their results agree bit for bit.
package kernels

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/tensor"
)

var (
	ErrArity = errors.New("kernels: wrong number of inputs")
	ErrShape = errors.New("kernels: incompatible input shape")
	ErrAttr  = errors.New("kernels: invalid attribute")
)

func arity(op string, in []*tensor.Tensor, min, max int) error {
	if len(in) < min || len(in) > max {
		return fmt.Errorf("%w: %s takes %d..%d inputs, got %d", ErrArity, op, min, max, len(in))
	}
	for i, t := range in {
		if t == nil {
			return fmt.Errorf("%w: %s input %d is nil", ErrArity, op, i)
		}
	}
	return nil
}

func identity(in []*tensor.Tensor, _ graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("identity", in, 1, 1); err != nil {
		return nil, err
	}
	return in[0].Clone(), nil
}

func unary(op string, in []*tensor.Tensor, fn func(float32) float32) (*tensor.Tensor, error) {
	if err := arity(op, in, 1, 1); err != nil {
		return nil, err
	}
	out := tensor.New(tensor.Float32, in[0].Shape)
	for i, v := range in[0].Data {
		out.Data[i] = fn(v)
	}
	return out, nil
}

func relu(in []*tensor.Tensor, _ graph.Attrs) (*tensor.Tensor, error) {
	return unary("relu", in, func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

func clamp(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error) {
	lo := float32(attrs.Float("min", math.Inf(-1)))
	hi := float32(attrs.Float("max", math.Inf(1)))
	if lo > hi {
		return nil, fmt.Errorf("%w: clamp min %v > max %v", ErrAttr, lo, hi)
	}
	return unary("clamp", in, func(v float32) float32 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	})
}

func sigmoid(in []*tensor.Tensor, _ graph.Attrs) (*tensor.Tensor, error) {
	return unary("sigmoid", in, func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	})
}

func tanh(in []*tensor.Tensor, _ graph.Attrs) (*tensor.Tensor, error) {
	return unary("tanh", in, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

// conv2d: x (N,C,H,W), weight (O,C/groups,KH,KW), optional bias (O).
func conv2d(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("conv2d", in, 2, 3); err != nil {
		return nil, err
	}
	x, w := in[0], in[1]
	if x.Shape.Rank() != 4 || w.Shape.Rank() != 4 {
		return nil, fmt.Errorf("%w: conv2d wants rank-4 input and weight, got %s and %s", ErrShape, x.Shape, w.Shape)
	}
	stride := attrs.Ints("stride", 2, 1)
	pad := attrs.Ints("padding", 2, 0)
	dil := attrs.Ints("dilation", 2, 1)
	groups := attrs.Int("groups", 1)
	if groups < 1 || stride[0] < 1 || stride[1] < 1 || dil[0] < 1 || dil[1] < 1 {
		return nil, fmt.Errorf("%w: conv2d stride=%v dilation=%v groups=%d", ErrAttr, stride, dil, groups)
	}

	n, c, h, wd := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	o, cg, kh, kw := w.Shape[0], w.Shape[1], w.Shape[2], w.Shape[3]
	if c%groups != 0 || o%groups != 0 || c/groups != cg {
		return nil, fmt.Errorf("%w: conv2d input %s does not match weight %s with groups=%d", ErrShape, x.Shape, w.Shape, groups)
	}
	var bias []float32
	if len(in) == 3 {
		if in[2].Len() != o {
			return nil, fmt.Errorf("%w: conv2d bias %s for %d output channels", ErrShape, in[2].Shape, o)
		}
		bias = in[2].Data
	}

	oh := (h+2*pad[0]-dil[0]*(kh-1)-1)/stride[0] + 1
	ow := (wd+2*pad[1]-dil[1]*(kw-1)-1)/stride[1] + 1
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("%w: conv2d output would be empty for input %s kernel %dx%d", ErrShape, x.Shape, kh, kw)
	}

	out := tensor.New(tensor.Float32, tensor.Shape{n, o, oh, ow})
	og := o / groups
	for b := 0; b < n; b++ {
		for oc := 0; oc < o; oc++ {
			g := oc / og
			var bv float32
			if bias != nil {
				bv = bias[oc]
			}
			dst := out.Data[((b*o+oc)*oh)*ow : ((b*o+oc)*oh+oh)*ow]
			for i := range dst {
				dst[i] = bv
			}
			for ic := 0; ic < cg; ic++ {
				src := x.Data[((b*c+g*cg+ic)*h)*wd:]
				for ky := 0; ky < kh; ky++ {
					for kx := 0; kx < kw; kx++ {
						wv := w.Data[((oc*cg+ic)*kh+ky)*kw+kx]
						for y := 0; y < oh; y++ {
							iy := y*stride[0] - pad[0] + ky*dil[0]
							if iy < 0 || iy >= h {
								continue
							}
							row := src[iy*wd:]
							for xo := 0; xo < ow; xo++ {
								ix := xo*stride[1] - pad[1] + kx*dil[1]
								if ix < 0 || ix >= wd {
									continue
								}
								dst[y*ow+xo] += wv * row[ix]
							}
						}
					}
				}
			}
		}
	}
	return out, nil
}

// batchNorm is the inference form: y = (x - mean) / sqrt(var + eps) * weight + bias.
// Inputs: x, weight, bias, running_mean, running_var. Statistics are per channel (dim 1).
func batchNorm(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("batch_norm", in, 5, 5); err != nil {
		return nil, err
	}
	x := in[0]
	if x.Shape.Rank() < 2 {
		return nil, fmt.Errorf("%w: batch_norm wants rank >= 2, got %s", ErrShape, x.Shape)
	}
	c := x.Shape[1]
	for i := 1; i < 5; i++ {
		if in[i].Len() != c {
			return nil, fmt.Errorf("%w: batch_norm parameter %d has %d entries for %d channels", ErrShape, i, in[i].Len(), c)
		}
	}
	scale, shift := BatchNormAffine(in[1].Data, in[2].Data, in[3].Data, in[4].Data, attrs.Float("eps", 1e-5))
	inner := 1
	for _, d := range x.Shape[2:] {
		inner *= d
	}
	out := tensor.New(tensor.Float32, x.Shape)
	for i, v := range x.Data {
		ch := (i / inner) % c
		out.Data[i] = v*scale[ch] + shift[ch]
	}
	return out, nil
}

// BatchNormAffine reduces inference batch norm to a per-channel scale and shift.
func BatchNormAffine(weight, bias, mean, variance []float32, eps float64) (scale, shift []float32) {
	scale = make([]float32, len(weight))
	shift = make([]float32, len(weight))
	for i := range weight {
		s := float64(weight[i]) / math.Sqrt(float64(variance[i])+eps)
		scale[i] = float32(s)
		shift[i] = float32(float64(bias[i]) - float64(mean[i])*s)
	}
	return scale, shift
}

type poolGeom struct {
	n, c, h, w     int
	kh, kw, oh, ow int
	sh, sw, ph, pw int
}

func poolGeometry(op string, x *tensor.Tensor, attrs graph.Attrs) (poolGeom, error) {
	if x.Shape.Rank() != 4 {
		return poolGeom{}, fmt.Errorf("%w: %s wants rank-4 input, got %s", ErrShape, op, x.Shape)
	}
	k := attrs.Ints("kernel_size", 2, 0)
	if k[0] < 1 || k[1] < 1 {
		return poolGeom{}, fmt.Errorf("%w: %s kernel_size=%v", ErrAttr, op, k)
	}
	s := attrs.Ints("stride", 2, 0)
	if s[0] == 0 && s[1] == 0 {
		s = k
	}
	p := attrs.Ints("padding", 2, 0)
	if s[0] < 1 || s[1] < 1 || p[0] < 0 || p[1] < 0 {
		return poolGeom{}, fmt.Errorf("%w: %s stride=%v padding=%v", ErrAttr, op, s, p)
	}
	g := poolGeom{
		n: x.Shape[0], c: x.Shape[1], h: x.Shape[2], w: x.Shape[3],
		kh: k[0], kw: k[1], sh: s[0], sw: s[1], ph: p[0], pw: p[1],
	}
	g.oh = (g.h+2*g.ph-g.kh)/g.sh + 1
	g.ow = (g.w+2*g.pw-g.kw)/g.sw + 1
	if g.oh < 1 || g.ow < 1 {
		return poolGeom{}, fmt.Errorf("%w: %s output would be empty for input %s", ErrShape, op, x.Shape)
	}
	return g, nil
}

func maxPool2d(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("max_pool2d", in, 1, 1); err != nil {
		return nil, err
	}
	g, err := poolGeometry("max_pool2d", in[0], attrs)
	if err != nil {
		return nil, err
	}
	out := tensor.New(tensor.Float32, tensor.Shape{g.n, g.c, g.oh, g.ow})
	for plane := 0; plane < g.n*g.c; plane++ {
		src := in[0].Data[plane*g.h*g.w:]
		dst := out.Data[plane*g.oh*g.ow:]
		for y := 0; y < g.oh; y++ {
			for x := 0; x < g.ow; x++ {
				best := float32(math.Inf(-1))
				for ky := 0; ky < g.kh; ky++ {
					iy := y*g.sh - g.ph + ky
					if iy < 0 || iy >= g.h {
						continue
					}
					for kx := 0; kx < g.kw; kx++ {
						ix := x*g.sw - g.pw + kx
						if ix < 0 || ix >= g.w {
							continue
						}
						if v := src[iy*g.w+ix]; v > best {
							best = v
						}
					}
				}
				dst[y*g.ow+x] = best
			}
		}
	}
	return out, nil
}

// avgPool2d counts padded positions in the divisor.
func avgPool2d(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("avg_pool2d", in, 1, 1); err != nil {
		return nil, err
	}
	g, err := poolGeometry("avg_pool2d", in[0], attrs)
	if err != nil {
		return nil, err
	}
	div := float32(g.kh * g.kw)
	out := tensor.New(tensor.Float32, tensor.Shape{g.n, g.c, g.oh, g.ow})
	for plane := 0; plane < g.n*g.c; plane++ {
		src := in[0].Data[plane*g.h*g.w:]
		dst := out.Data[plane*g.oh*g.ow:]
		for y := 0; y < g.oh; y++ {
			for x := 0; x < g.ow; x++ {
				var acc float32
				for ky := 0; ky < g.kh; ky++ {
					iy := y*g.sh - g.ph + ky
					if iy < 0 || iy >= g.h {
						continue
					}
					for kx := 0; kx < g.kw; kx++ {
						ix := x*g.sw - g.pw + kx
						if ix < 0 || ix >= g.w {
							continue
						}
						acc += src[iy*g.w+ix]
					}
				}
				dst[y*g.ow+x] = acc / div
			}
		}
	}
	return out, nil
}

func adaptiveAvgPool2d(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("adaptive_avg_pool2d", in, 1, 1); err != nil {
		return nil, err
	}
	x := in[0]
	if x.Shape.Rank() != 4 {
		return nil, fmt.Errorf("%w: adaptive_avg_pool2d wants rank-4 input, got %s", ErrShape, x.Shape)
	}
	size := attrs.Ints("output_size", 2, 1)
	if size[0] < 1 || size[1] < 1 {
		return nil, fmt.Errorf("%w: adaptive_avg_pool2d output_size=%v", ErrAttr, size)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := size[0], size[1]
	out := tensor.New(tensor.Float32, tensor.Shape{n, c, oh, ow})
	for plane := 0; plane < n*c; plane++ {
		src := x.Data[plane*h*w:]
		dst := out.Data[plane*oh*ow:]
		for y := 0; y < oh; y++ {
			y0, y1 := y*h/oh, ((y+1)*h+oh-1)/oh
			for xo := 0; xo < ow; xo++ {
				x0, x1 := xo*w/ow, ((xo+1)*w+ow-1)/ow
				var acc float32
				for iy := y0; iy < y1; iy++ {
					for ix := x0; ix < x1; ix++ {
						acc += src[iy*w+ix]
					}
				}
				dst[y*ow+xo] = acc / float32((y1-y0)*(x1-x0))
			}
		}
	}
	return out, nil
}

func flatten(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("flatten", in, 1, 1); err != nil {
		return nil, err
	}
	x := in[0]
	rank := x.Shape.Rank()
	start := attrs.Int("start_dim", 1)
	end := attrs.Int("end_dim", -1)
	if start < 0 {
		start += rank
	}
	if end < 0 {
		end += rank
	}
	if rank == 0 || start < 0 || end >= rank || start > end {
		return nil, fmt.Errorf("%w: flatten start_dim=%d end_dim=%d for rank %d", ErrAttr, start, end, rank)
	}
	shape := tensor.Shape{}
	shape = append(shape, x.Shape[:start]...)
	shape = append(shape, x.Shape[start:end+1].NumElements())
	shape = append(shape, x.Shape[end+1:]...)
	out := x.Clone()
	out.Shape = shape
	return out, nil
}

// linear: x (..., in), weight (out, in), optional bias (out).
func linear(in []*tensor.Tensor, _ graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("linear", in, 2, 3); err != nil {
		return nil, err
	}
	x, w := in[0], in[1]
	if x.Shape.Rank() < 1 || w.Shape.Rank() != 2 {
		return nil, fmt.Errorf("%w: linear input %s weight %s", ErrShape, x.Shape, w.Shape)
	}
	fanIn := x.Shape[x.Shape.Rank()-1]
	fanOut := w.Shape[0]
	if w.Shape[1] != fanIn {
		return nil, fmt.Errorf("%w: linear input features %d, weight %s", ErrShape, fanIn, w.Shape)
	}
	var bias []float32
	if len(in) == 3 {
		if in[2].Len() != fanOut {
			return nil, fmt.Errorf("%w: linear bias %s for %d outputs", ErrShape, in[2].Shape, fanOut)
		}
		bias = in[2].Data
	}
	rows := x.Len() / fanIn
	shape := append(x.Shape[:x.Shape.Rank()-1].Clone(), fanOut)
	out := tensor.New(tensor.Float32, shape)
	for r := 0; r < rows; r++ {
		xr := x.Data[r*fanIn : (r+1)*fanIn]
		for o := 0; o < fanOut; o++ {
			wr := w.Data[o*fanIn : (o+1)*fanIn]
			var acc float32
			if bias != nil {
				acc = bias[o]
			}
			for i, v := range xr {
				acc += v * wr[i]
			}
			out.Data[r*fanOut+o] = acc
		}
	}
	return out, nil
}

func add(in []*tensor.Tensor, _ graph.Attrs) (*tensor.Tensor, error) {
	return binary("add", in, tensor.Float32, func(a, b float32) float32 { return a + b })
}

func mul(in []*tensor.Tensor, _ graph.Attrs) (*tensor.Tensor, error) {
	return binary("mul", in, tensor.Float32, func(a, b float32) float32 { return a * b })
}

func gt(in []*tensor.Tensor, _ graph.Attrs) (*tensor.Tensor, error) {
	return binary("gt", in, tensor.Bool, func(a, b float32) float32 {
		if a > b {
			return 1
		}
		return 0
	})
}

func binary(op string, in []*tensor.Tensor, dt tensor.DType, fn func(a, b float32) float32) (*tensor.Tensor, error) {
	if err := arity(op, in, 2, 2); err != nil {
		return nil, err
	}
	a, b := in[0], in[1]
	shape, err := BroadcastShape(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := tensor.New(dt, shape)
	ia := broadcastIndex(a.Shape, shape)
	ib := broadcastIndex(b.Shape, shape)
	for i := range out.Data {
		out.Data[i] = fn(a.Data[ia[i]], b.Data[ib[i]])
	}
	return out, nil
}

// BroadcastShape applies right-aligned broadcasting rules.
func BroadcastShape(a, b tensor.Shape) (tensor.Shape, error) {
	n := max(len(a), len(b))
	out := make(tensor.Shape, n)
	for i := 0; i < n; i++ {
		da, db := dimAt(a, i, n), dimAt(b, i, n)
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %s with %s", ErrShape, a, b)
		}
	}
	return out, nil
}

func dimAt(s tensor.Shape, i, n int) int {
	j := i - (n - len(s))
	if j < 0 {
		return 1
	}
	return s[j]
}

// broadcastIndex maps each element of out to its source element in src.
func broadcastIndex(src, out tensor.Shape) []int {
	n := len(out)
	strides := make([]int, n)
	acc := 1
	for i := n - 1; i >= 0; i-- {
		if d := dimAt(src, i, n); d != 1 {
			strides[i] = acc
			acc *= d
		}
	}
	idx := make([]int, out.NumElements())
	coord := make([]int, n)
	for lin := range idx {
		off := 0
		for i := 0; i < n; i++ {
			off += coord[i] * strides[i]
		}
		idx[lin] = off
		for i := n - 1; i >= 0; i-- {
			coord[i]++
			if coord[i] < out[i] {
				break
			}
			coord[i] = 0
		}
	}
	return idx
}

// axisGeometry splits a shape around dim into outer, axis and inner extents.
func axisGeometry(op string, shape tensor.Shape, dim int) (outer, axis, inner int, err error) {
	rank := shape.Rank()
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		return 0, 0, 0, fmt.Errorf("%w: %s dim %d for rank %d", ErrAttr, op, dim, rank)
	}
	outer, inner = 1, 1
	for _, d := range shape[:dim] {
		outer *= d
	}
	for _, d := range shape[dim+1:] {
		inner *= d
	}
	return outer, shape[dim], inner, nil
}

func softmax(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("softmax", in, 1, 1); err != nil {
		return nil, err
	}
	x := in[0]
	outer, axis, inner, err := axisGeometry("softmax", x.Shape, attrs.Int("dim", -1))
	if err != nil {
		return nil, err
	}
	out := tensor.New(tensor.Float32, x.Shape)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*axis*inner + i
			peak := math.Inf(-1)
			for a := 0; a < axis; a++ {
				peak = math.Max(peak, float64(x.Data[base+a*inner]))
			}
			var total float64
			for a := 0; a < axis; a++ {
				e := math.Exp(float64(x.Data[base+a*inner]) - peak)
				out.Data[base+a*inner] = float32(e)
				total += e
			}
			for a := 0; a < axis; a++ {
				out.Data[base+a*inner] = float32(float64(out.Data[base+a*inner]) / total)
			}
		}
	}
	return out, nil
}

func cumsum(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("cumsum", in, 1, 1); err != nil {
		return nil, err
	}
	x := in[0]
	outer, axis, inner, err := axisGeometry("cumsum", x.Shape, attrs.Int("dim", 0))
	if err != nil {
		return nil, err
	}
	out := x.Clone()
	out.DType = tensor.Float32
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*axis*inner + i
			for a := 1; a < axis; a++ {
				out.Data[base+a*inner] += out.Data[base+(a-1)*inner]
			}
		}
	}
	return out, nil
}

// sum reduces every element to a scalar.
func sum(in []*tensor.Tensor, _ graph.Attrs) (*tensor.Tensor, error) {
	if err := arity("sum", in, 1, 1); err != nil {
		return nil, err
	}
	var acc float64
	for _, v := range in[0].Data {
		acc += float64(v)
	}
	return tensor.Scalar(float32(acc)), nil
}
