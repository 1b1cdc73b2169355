// Package records maps graph and tensor values onto schema-checked TLV records.
// Traced-program and edge containers share these encodings.
package records

import (
	"fmt"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/protocol/schema"
	"github.com/danmuck/edgeexport/internal/protocol/tlv"
	"github.com/danmuck/edgeexport/internal/tensor"
)

// maxDepth bounds nested control-flow blocks while decoding.
const maxDepth = 32

func decodeRecord(kind uint32, f tlv.Field) ([]tlv.Field, error) {
	fields, err := tlv.AsNested(f)
	if err != nil {
		return nil, fmt.Errorf("%s record: %w", schema.RecordName(kind), err)
	}
	if err := schema.Validate(kind, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// DecodeFields validates a top-level payload as a record of kind.
func DecodeFields(kind uint32, payload []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, fmt.Errorf("%s record: %w", schema.RecordName(kind), err)
	}
	if err := schema.Validate(kind, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// RequiredString returns a required string field; callers validate first.
func RequiredString(fields []tlv.Field, id uint16) string {
	f, _ := tlv.GetField(fields, id)
	return string(f.Value)
}

func Strings(fields []tlv.Field, id uint16) []string {
	matches := tlv.GetAll(fields, id)
	out := make([]string, 0, len(matches))
	for _, f := range matches {
		out = append(out, string(f.Value))
	}
	return out
}

func Uint32s(fields []tlv.Field, id uint16) ([]uint32, error) {
	matches := tlv.GetAll(fields, id)
	out := make([]uint32, 0, len(matches))
	for _, f := range matches {
		v, err := tlv.AsU32(f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func EncodeShape(id uint16, s tensor.Shape) tlv.Field {
	dims := make([]int64, len(s))
	for i, d := range s {
		dims[i] = int64(d)
	}
	return tlv.I64s(id, dims)
}

func DecodeShape(f tlv.Field) (tensor.Shape, error) {
	dims, err := tlv.AsI64s(f)
	if err != nil {
		return nil, err
	}
	out := make(tensor.Shape, len(dims))
	for i, d := range dims {
		if d <= 0 || d > 1<<31 {
			return nil, fmt.Errorf("records: invalid dimension %d", d)
		}
		out[i] = int(d)
	}
	return out, nil
}

func DecodeDType(f tlv.Field) (tensor.DType, error) {
	raw, err := tlv.AsU8(f)
	if err != nil {
		return tensor.Invalid, err
	}
	dt := tensor.DType(raw)
	if dt != tensor.Float32 && dt != tensor.Bool {
		return tensor.Invalid, fmt.Errorf("%w: id %d", tensor.ErrUnknownDType, raw)
	}
	return dt, nil
}

// EncodeTensor stores an optionally named tensor.
func EncodeTensor(id uint16, name string, t *tensor.Tensor) tlv.Field {
	fields := make([]tlv.Field, 0, 4)
	if name != "" {
		fields = append(fields, tlv.String(schema.FieldName, name))
	}
	fields = append(fields,
		tlv.U8(schema.FieldDType, uint8(t.DType)),
		EncodeShape(schema.FieldShape, t.Shape),
		tlv.F32s(schema.FieldData, t.Data),
	)
	return tlv.Nested(id, fields)
}

func DecodeTensor(f tlv.Field) (string, *tensor.Tensor, error) {
	fields, err := decodeRecord(schema.RecTensor, f)
	if err != nil {
		return "", nil, err
	}
	var name string
	if nf, ok := tlv.GetField(fields, schema.FieldName); ok {
		name = string(nf.Value)
	}
	dtField, _ := tlv.GetField(fields, schema.FieldDType)
	dt, err := DecodeDType(dtField)
	if err != nil {
		return "", nil, err
	}
	shapeField, _ := tlv.GetField(fields, schema.FieldShape)
	shape, err := DecodeShape(shapeField)
	if err != nil {
		return "", nil, err
	}
	dataField, _ := tlv.GetField(fields, schema.FieldData)
	data, err := tlv.AsF32s(dataField)
	if err != nil {
		return "", nil, err
	}
	t, err := tensor.FromData(dt, shape, data)
	if err != nil {
		return "", nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	return name, t, nil
}

// EncodeAttrs writes one attr record per key in sorted key order.
func EncodeAttrs(id uint16, attrs graph.Attrs) []tlv.Field {
	out := make([]tlv.Field, 0, len(attrs))
	for _, key := range attrs.Keys() {
		a := attrs[key]
		fields := []tlv.Field{
			tlv.String(schema.FieldName, key),
			tlv.U8(schema.FieldAttrKind, uint8(a.Kind)),
		}
		switch a.Kind {
		case graph.AttrInt:
			fields = append(fields, tlv.U64(schema.FieldAttrInt, uint64(a.Int)))
		case graph.AttrInts:
			fields = append(fields, tlv.I64s(schema.FieldAttrInts, a.Ints))
		case graph.AttrFloat:
			fields = append(fields, tlv.F64(schema.FieldAttrFloat, a.Float))
		case graph.AttrString:
			fields = append(fields, tlv.String(schema.FieldAttrString, a.Str))
		}
		out = append(out, tlv.Nested(id, fields))
	}
	return out
}

func DecodeAttrs(fields []tlv.Field) (graph.Attrs, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	attrs := make(graph.Attrs, len(fields))
	for _, f := range fields {
		af, err := decodeRecord(schema.RecAttr, f)
		if err != nil {
			return nil, err
		}
		name := RequiredString(af, schema.FieldName)
		kindField, _ := tlv.GetField(af, schema.FieldAttrKind)
		kind, err := tlv.AsU8(kindField)
		if err != nil {
			return nil, err
		}
		a := graph.Attr{Kind: graph.AttrKind(kind)}
		var valueID uint16
		switch a.Kind {
		case graph.AttrInt:
			valueID = schema.FieldAttrInt
		case graph.AttrInts:
			valueID = schema.FieldAttrInts
		case graph.AttrFloat:
			valueID = schema.FieldAttrFloat
		case graph.AttrString:
			valueID = schema.FieldAttrString
		default:
			return nil, fmt.Errorf("records: attr %q has unknown kind %d", name, kind)
		}
		vf, ok := tlv.GetField(af, valueID)
		if !ok {
			return nil, schema.ValidationError{Record: schema.RecAttr, FieldID: valueID, Reason: "missing attr value"}
		}
		switch a.Kind {
		case graph.AttrInt:
			v, err := tlv.AsU64(vf)
			if err != nil {
				return nil, err
			}
			a.Int = int64(v)
		case graph.AttrInts:
			if a.Ints, err = tlv.AsI64s(vf); err != nil {
				return nil, err
			}
		case graph.AttrFloat:
			if a.Float, err = tlv.AsF64(vf); err != nil {
				return nil, err
			}
		case graph.AttrString:
			a.Str = string(vf.Value)
		}
		if _, dup := attrs[name]; dup {
			return nil, fmt.Errorf("records: attr %q repeated", name)
		}
		attrs[name] = a
	}
	return attrs, nil
}

func EncodeNode(id uint16, n *graph.Node) tlv.Field {
	fields := []tlv.Field{tlv.String(schema.FieldKind, n.Kind)}
	for _, in := range n.Inputs {
		fields = append(fields, tlv.String(schema.FieldInput, in))
	}
	for _, out := range n.Outputs {
		fields = append(fields, tlv.String(schema.FieldOutput, out))
	}
	fields = append(fields, EncodeAttrs(schema.FieldAttr, n.Attrs)...)
	for _, b := range n.Blocks {
		fields = append(fields, encodeBlock(schema.FieldBlock, b))
	}
	return tlv.Nested(id, fields)
}

func encodeBlock(id uint16, b *graph.Block) tlv.Field {
	fields := make([]tlv.Field, 0, len(b.Nodes)+len(b.Outputs))
	for _, n := range b.Nodes {
		fields = append(fields, EncodeNode(schema.FieldNode, n))
	}
	for _, out := range b.Outputs {
		fields = append(fields, tlv.String(schema.FieldOutput, out))
	}
	return tlv.Nested(id, fields)
}

func DecodeNode(f tlv.Field) (*graph.Node, error) {
	return decodeNode(f, 0)
}

func decodeNode(f tlv.Field, depth int) (*graph.Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("records: blocks nested deeper than %d", maxDepth)
	}
	fields, err := decodeRecord(schema.RecNode, f)
	if err != nil {
		return nil, err
	}
	n := &graph.Node{
		Kind:    RequiredString(fields, schema.FieldKind),
		Inputs:  Strings(fields, schema.FieldInput),
		Outputs: Strings(fields, schema.FieldOutput),
	}
	if n.Attrs, err = DecodeAttrs(tlv.GetAll(fields, schema.FieldAttr)); err != nil {
		return nil, fmt.Errorf("node %s: %w", n.Kind, err)
	}
	for _, bf := range tlv.GetAll(fields, schema.FieldBlock) {
		blockFields, err := decodeRecord(schema.RecBlock, bf)
		if err != nil {
			return nil, err
		}
		b := &graph.Block{Outputs: Strings(blockFields, schema.FieldOutput)}
		for _, nf := range tlv.GetAll(blockFields, schema.FieldNode) {
			child, err := decodeNode(nf, depth+1)
			if err != nil {
				return nil, err
			}
			b.Nodes = append(b.Nodes, child)
		}
		n.Blocks = append(n.Blocks, b)
	}
	return n, nil
}

func EncodeGraph(id uint16, g *graph.Graph) tlv.Field {
	fields := make([]tlv.Field, 0, len(g.Inputs)+len(g.Outputs)+len(g.Nodes))
	for _, in := range g.Inputs {
		fields = append(fields, tlv.String(schema.FieldInput, in))
	}
	for _, out := range g.Outputs {
		fields = append(fields, tlv.String(schema.FieldOutput, out))
	}
	for _, n := range g.Nodes {
		fields = append(fields, EncodeNode(schema.FieldNode, n))
	}
	return tlv.Nested(id, fields)
}

func DecodeGraph(f tlv.Field) (*graph.Graph, error) {
	fields, err := decodeRecord(schema.RecGraph, f)
	if err != nil {
		return nil, err
	}
	g := &graph.Graph{
		Inputs:  Strings(fields, schema.FieldInput),
		Outputs: Strings(fields, schema.FieldOutput),
	}
	for _, nf := range tlv.GetAll(fields, schema.FieldNode) {
		n, err := DecodeNode(nf)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, n)
	}
	return g, nil
}
