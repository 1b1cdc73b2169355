package edge

import (
	"bytes"
	"fmt"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/danmuck/edgeexport/internal/protocol/frame"
	"github.com/danmuck/edgeexport/internal/protocol/records"
	"github.com/danmuck/edgeexport/internal/protocol/schema"
	"github.com/danmuck/edgeexport/internal/protocol/tlv"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Container identity for edge program artifacts.
const (
	Magic       uint32 = 0x45505445 // "EPTE"
	Version     uint16 = 1
	KindProgram uint32 = 1
)

// Namespace scopes program IDs. IDs are SHA-1 UUIDs of the encoded program body, so
// encoding the same program twice yields the same ID and the same bytes.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/danmuck/edgeexport/edge-program"))

// idFieldLen is the encoded size of the leading program id field.
const idFieldLen = tlv.HeaderLen + 16

// Encode serializes p into an edge container. Faults are serialization errors.
func Encode(p *Program) ([]byte, error) {
	if p == nil {
		return nil, convert.SerializationError(nil, "no program to encode")
	}
	if err := p.Validate(); err != nil {
		return nil, convert.SerializationError(err, "program %q is not encodable", p.Name)
	}
	body := tlv.EncodeFields(bodyFields(p))
	id := uuid.NewSHA1(Namespace, body)

	payload := make([]byte, 0, idFieldLen+len(body))
	payload = append(payload, tlv.EncodeField(tlv.Bytes(schema.FieldProgramID, id[:]))...)
	payload = append(payload, body...)

	buf, err := frame.Marshal(frame.Frame{
		Header:  frame.Header{Magic: Magic, Version: Version, Kind: KindProgram},
		Payload: payload,
	}, frame.DefaultLimits())
	if err != nil {
		return nil, convert.SerializationError(err, "frame program %q", p.Name)
	}
	log.Debug().
		Str("program", p.Name).
		Str("id", id.String()).
		Int("bytes", len(buf)).
		Msg("edge.Encode")
	return buf, nil
}

func bodyFields(p *Program) []tlv.Field {
	fields := []tlv.Field{tlv.String(schema.FieldName, p.Name)}
	for _, op := range p.Operators {
		fields = append(fields, tlv.String(schema.FieldOperator, op))
	}
	for _, v := range p.Values {
		vf := []tlv.Field{
			tlv.String(schema.FieldName, v.Name),
			tlv.U8(schema.FieldDType, uint8(v.DType)),
			records.EncodeShape(schema.FieldShape, v.Shape),
		}
		if v.IsConstant() {
			vf = append(vf, tlv.U32(schema.FieldConstIndex, uint32(v.ConstIndex)))
		}
		fields = append(fields, tlv.Nested(schema.FieldValue, vf))
	}
	for _, c := range p.Constants {
		fields = append(fields, records.EncodeTensor(schema.FieldConstant, "", c))
	}
	for _, in := range p.Inputs {
		fields = append(fields, tlv.U32(schema.FieldInput, uint32(in)))
	}
	for _, out := range p.Outputs {
		fields = append(fields, tlv.U32(schema.FieldOutput, uint32(out)))
	}
	for _, ins := range p.Chain {
		inf := []tlv.Field{tlv.U32(schema.FieldOpIndex, uint32(ins.Op))}
		for _, a := range ins.Args {
			inf = append(inf, tlv.U32(schema.FieldArg, uint32(a)))
		}
		for _, r := range ins.Results {
			inf = append(inf, tlv.U32(schema.FieldResult, uint32(r)))
		}
		inf = append(inf, records.EncodeAttrs(schema.FieldAttr, ins.Attrs)...)
		fields = append(fields, tlv.Nested(schema.FieldInstruction, inf))
	}
	return fields
}

// ProgramID reads the id of an encoded container without decoding the program.
func ProgramID(buf []byte) (uuid.UUID, error) {
	f, err := frame.Unmarshal(buf, frame.DefaultLimits())
	if err != nil {
		return uuid.Nil, err
	}
	if err := frame.Expect(f.Header, Magic, Version, KindProgram); err != nil {
		return uuid.Nil, err
	}
	return leadingID(f.Payload)
}

func leadingID(payload []byte) (uuid.UUID, error) {
	if len(payload) < idFieldLen {
		return uuid.Nil, tlv.ErrShortFieldHeader
	}
	fields, err := tlv.DecodeFields(payload[:idFieldLen])
	if err != nil {
		return uuid.Nil, err
	}
	if fields[0].ID != schema.FieldProgramID {
		return uuid.Nil, schema.ValidationError{Record: schema.RecProgram, FieldID: schema.FieldProgramID, Reason: "program id must lead the payload"}
	}
	return uuid.FromBytes(fields[0].Value)
}

// Decode parses and validates an edge container, checking that the embedded id
// matches the body.
func Decode(buf []byte) (*Program, error) {
	f, err := frame.Unmarshal(buf, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	if err := frame.Expect(f.Header, Magic, Version, KindProgram); err != nil {
		return nil, err
	}
	id, err := leadingID(f.Payload)
	if err != nil {
		return nil, err
	}
	body := f.Payload[idFieldLen:]
	if want := uuid.NewSHA1(Namespace, body); !bytes.Equal(id[:], want[:]) {
		return nil, fmt.Errorf("edge: program id %s does not match body (%s)", id, want)
	}
	fields, err := records.DecodeFields(schema.RecProgram, f.Payload)
	if err != nil {
		return nil, err
	}

	p := &Program{
		ID:        id,
		Name:      records.RequiredString(fields, schema.FieldName),
		Operators: records.Strings(fields, schema.FieldOperator),
	}
	for _, vf := range tlv.GetAll(fields, schema.FieldValue) {
		v, err := decodeValue(vf)
		if err != nil {
			return nil, err
		}
		p.Values = append(p.Values, v)
	}
	for _, cf := range tlv.GetAll(fields, schema.FieldConstant) {
		_, t, err := records.DecodeTensor(cf)
		if err != nil {
			return nil, err
		}
		p.Constants = append(p.Constants, t)
	}
	if p.Inputs, err = indices(fields, schema.FieldInput); err != nil {
		return nil, err
	}
	if p.Outputs, err = indices(fields, schema.FieldOutput); err != nil {
		return nil, err
	}
	for _, inf := range tlv.GetAll(fields, schema.FieldInstruction) {
		ins, err := decodeInstruction(inf)
		if err != nil {
			return nil, err
		}
		p.Chain = append(p.Chain, ins)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeValue(f tlv.Field) (Value, error) {
	nested, err := tlv.AsNested(f)
	if err != nil {
		return Value{}, err
	}
	if err := schema.Validate(schema.RecValue, nested); err != nil {
		return Value{}, err
	}
	v := Value{Name: records.RequiredString(nested, schema.FieldName), ConstIndex: -1}
	dtField, _ := tlv.GetField(nested, schema.FieldDType)
	if v.DType, err = records.DecodeDType(dtField); err != nil {
		return Value{}, err
	}
	shapeField, _ := tlv.GetField(nested, schema.FieldShape)
	if v.Shape, err = records.DecodeShape(shapeField); err != nil {
		return Value{}, err
	}
	if cf, ok := tlv.GetField(nested, schema.FieldConstIndex); ok {
		idx, err := tlv.AsU32(cf)
		if err != nil {
			return Value{}, err
		}
		v.ConstIndex = int(idx)
	}
	return v, nil
}

func decodeInstruction(f tlv.Field) (Instruction, error) {
	nested, err := tlv.AsNested(f)
	if err != nil {
		return Instruction{}, err
	}
	if err := schema.Validate(schema.RecInstruction, nested); err != nil {
		return Instruction{}, err
	}
	opField, _ := tlv.GetField(nested, schema.FieldOpIndex)
	op, err := tlv.AsU32(opField)
	if err != nil {
		return Instruction{}, err
	}
	ins := Instruction{Op: int(op)}
	if ins.Args, err = indices(nested, schema.FieldArg); err != nil {
		return Instruction{}, err
	}
	if ins.Results, err = indices(nested, schema.FieldResult); err != nil {
		return Instruction{}, err
	}
	if ins.Attrs, err = records.DecodeAttrs(tlv.GetAll(nested, schema.FieldAttr)); err != nil {
		return Instruction{}, err
	}
	return ins, nil
}

func indices(fields []tlv.Field, id uint16) ([]int, error) {
	raw, err := records.Uint32s(fields, id)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		out[i] = int(v)
	}
	return out, nil
}

