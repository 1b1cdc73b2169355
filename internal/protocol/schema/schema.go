package schema

import (
	"fmt"

	"github.com/danmuck/edgeexport/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Record kinds from tlv contract.
const (
	RecModule      uint32 = 1
	RecGraph       uint32 = 2
	RecNode        uint32 = 3
	RecBlock       uint32 = 4
	RecAttr        uint32 = 5
	RecTensor      uint32 = 6
	RecProgram     uint32 = 7
	RecValue       uint32 = 8
	RecInstruction uint32 = 9
)

// Field IDs from tlv contract.
const (
	FieldName     uint16 = 1
	FieldTraining uint16 = 2
	FieldParam    uint16 = 3
	FieldGraph    uint16 = 4

	FieldInput  uint16 = 100
	FieldOutput uint16 = 101
	FieldNode   uint16 = 102

	FieldKind  uint16 = 200
	FieldAttr  uint16 = 201
	FieldBlock uint16 = 202

	FieldAttrKind   uint16 = 300
	FieldAttrInt    uint16 = 301
	FieldAttrInts   uint16 = 302
	FieldAttrFloat  uint16 = 303
	FieldAttrString uint16 = 304

	FieldDType uint16 = 400
	FieldShape uint16 = 401
	FieldData  uint16 = 402

	FieldProgramID   uint16 = 500
	FieldOperator    uint16 = 501
	FieldValue       uint16 = 502
	FieldConstant    uint16 = 503
	FieldInstruction uint16 = 504

	FieldConstIndex uint16 = 600

	FieldOpIndex uint16 = 700
	FieldArg     uint16 = 701
	FieldResult  uint16 = 702
)

// Requirement declares a known field within a record kind. Repeated and optional
// fields are type-checked when present.
type Requirement struct {
	ID       uint16
	Type     uint8
	Required bool
}

type ValidationError struct {
	Record  uint32
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: record=%s: %s", RecordName(e.Record), e.Reason)
	}
	return fmt.Sprintf("schema: record=%s field=%d: %s", RecordName(e.Record), e.FieldID, e.Reason)
}

var recordNames = map[uint32]string{
	RecModule:      "module",
	RecGraph:       "graph",
	RecNode:        "node",
	RecBlock:       "block",
	RecAttr:        "attr",
	RecTensor:      "tensor",
	RecProgram:     "program",
	RecValue:       "value",
	RecInstruction: "instruction",
}

func RecordName(kind uint32) string {
	if name, ok := recordNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", kind)
}

var requirements = map[uint32][]Requirement{
	RecModule: {
		{FieldName, tlv.TypeString, true},
		{FieldTraining, tlv.TypeBool, true},
		{FieldGraph, tlv.TypeBytes, true},
		{FieldParam, tlv.TypeBytes, false},
	},
	RecGraph: {
		{FieldInput, tlv.TypeString, false},
		{FieldOutput, tlv.TypeString, false},
		{FieldNode, tlv.TypeBytes, false},
	},
	RecNode: {
		{FieldKind, tlv.TypeString, true},
		{FieldInput, tlv.TypeString, false},
		{FieldOutput, tlv.TypeString, false},
		{FieldAttr, tlv.TypeBytes, false},
		{FieldBlock, tlv.TypeBytes, false},
	},
	RecBlock: {
		{FieldNode, tlv.TypeBytes, false},
		{FieldOutput, tlv.TypeString, false},
	},
	RecAttr: {
		{FieldName, tlv.TypeString, true},
		{FieldAttrKind, tlv.TypeU8, true},
		{FieldAttrInt, tlv.TypeU64, false},
		{FieldAttrInts, tlv.TypeI64s, false},
		{FieldAttrFloat, tlv.TypeF64, false},
		{FieldAttrString, tlv.TypeString, false},
	},
	RecTensor: {
		{FieldDType, tlv.TypeU8, true},
		{FieldShape, tlv.TypeI64s, true},
		{FieldData, tlv.TypeF32s, true},
		{FieldName, tlv.TypeString, false},
	},
	RecProgram: {
		{FieldProgramID, tlv.TypeBytes, true},
		{FieldName, tlv.TypeString, true},
		{FieldOperator, tlv.TypeString, false},
		{FieldValue, tlv.TypeBytes, false},
		{FieldConstant, tlv.TypeBytes, false},
		{FieldInput, tlv.TypeU32, false},
		{FieldOutput, tlv.TypeU32, false},
		{FieldInstruction, tlv.TypeBytes, false},
	},
	RecValue: {
		{FieldName, tlv.TypeString, true},
		{FieldDType, tlv.TypeU8, true},
		{FieldShape, tlv.TypeI64s, true},
		{FieldConstIndex, tlv.TypeU32, false},
	},
	RecInstruction: {
		{FieldOpIndex, tlv.TypeU32, true},
		{FieldArg, tlv.TypeU32, false},
		{FieldResult, tlv.TypeU32, false},
		{FieldAttr, tlv.TypeBytes, false},
	},
}

// Validate enforces required fields and field types for a record kind.
// Unknown fields are ignored.
func Validate(record uint32, fields []tlv.Field) error {
	reqs, ok := requirements[record]
	if !ok {
		log.Error().Uint32("record", record).Msg("schema.Validate unknown record")
		return ValidationError{Record: record, Reason: "unknown record kind"}
	}
	for _, req := range reqs {
		matches := tlv.GetAll(fields, req.ID)
		if len(matches) == 0 && req.Required {
			log.Debug().
				Str("record", RecordName(record)).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{Record: record, FieldID: req.ID, Reason: "missing required field"}
		}
		for _, f := range matches {
			if f.Type != req.Type {
				log.Debug().
					Str("record", RecordName(record)).
					Uint16("field_id", req.ID).
					Uint8("got", f.Type).
					Uint8("want", req.Type).
					Msg("schema.Validate type mismatch")
				return ValidationError{Record: record, FieldID: req.ID, Reason: "type mismatch"}
			}
		}
	}
	return nil
}
