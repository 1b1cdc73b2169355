package trace

import (
	"fmt"
	"io"

	"github.com/danmuck/edgeexport/internal/protocol/frame"
	"github.com/danmuck/edgeexport/internal/protocol/records"
	"github.com/danmuck/edgeexport/internal/protocol/schema"
	"github.com/danmuck/edgeexport/internal/protocol/tlv"
	"github.com/danmuck/edgeexport/internal/tensor"
)

// Container identity for traced-program files.
const (
	Magic      uint32 = 0x45544d31 // "ETM1"
	Version    uint16 = 1
	KindModule uint32 = 1
)

// Encode writes m as a traced-program container. Parameters are written in name order.
func Encode(w io.Writer, m *Module) error {
	if err := m.Validate(); err != nil {
		return err
	}
	fields := []tlv.Field{
		tlv.String(schema.FieldName, m.Name),
		tlv.Bool(schema.FieldTraining, m.Training),
	}
	for _, name := range m.ParamNames() {
		fields = append(fields, records.EncodeTensor(schema.FieldParam, name, m.Params[name]))
	}
	fields = append(fields, records.EncodeGraph(schema.FieldGraph, m.Graph))

	f := frame.Frame{
		Header:  frame.Header{Magic: Magic, Version: Version, Kind: KindModule},
		Payload: tlv.EncodeFields(fields),
	}
	return frame.WriteFrame(w, f, frame.DefaultLimits())
}

// Unmarshal decodes exactly one traced-program container from buf.
func Unmarshal(buf []byte) (*Module, error) {
	f, err := frame.Unmarshal(buf, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	if err := frame.Expect(f.Header, Magic, Version, KindModule); err != nil {
		return nil, err
	}
	fields, err := records.DecodeFields(schema.RecModule, f.Payload)
	if err != nil {
		return nil, err
	}

	trainingField, _ := tlv.GetField(fields, schema.FieldTraining)
	training, err := tlv.AsBool(trainingField)
	if err != nil {
		return nil, err
	}
	m := &Module{
		Name:     records.RequiredString(fields, schema.FieldName),
		Training: training,
		Params:   make(map[string]*tensor.Tensor),
	}
	for _, pf := range tlv.GetAll(fields, schema.FieldParam) {
		name, t, err := records.DecodeTensor(pf)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, fmt.Errorf("trace: unnamed parameter")
		}
		if _, dup := m.Params[name]; dup {
			return nil, fmt.Errorf("trace: parameter %q repeated", name)
		}
		m.Params[name] = t
	}
	graphField, _ := tlv.GetField(fields, schema.FieldGraph)
	if m.Graph, err = records.DecodeGraph(graphField); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
