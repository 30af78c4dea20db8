package mailbox

import (
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wippyai/wasm-bridge/errors"
)

const (
	fieldType = "type"
	fieldData = "data"
)

// Envelope is the {type, data} record exchanged with a module.
type Envelope struct {
	Data *structpb.Struct
	Type string
}

// NewEnvelope builds an envelope from a Go map. Values must be representable
// by structpb (nil, bool, numbers, string, []any, map[string]any).
func NewEnvelope(typ string, data map[string]any) (Envelope, error) {
	s, err := structpb.NewStruct(data)
	if err != nil {
		return Envelope{}, errors.Encode(typ, err)
	}
	return Envelope{Type: typ, Data: s}, nil
}

// Encode renders env as the JSON object {"type": ..., "data": {...}}.
// A nil Data is encoded as an empty object.
func Encode(env Envelope) ([]byte, error) {
	data := env.Data
	if data == nil {
		data = &structpb.Struct{}
	}
	wire := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldType: structpb.NewStringValue(env.Type),
		fieldData: structpb.NewStructValue(data),
	}}
	raw, err := protojson.Marshal(wire)
	if err != nil {
		return nil, errors.Encode(env.Type, err)
	}
	return raw, nil
}

// Decode parses raw into an Envelope. The input must be a JSON object with a
// string "type" field and an object "data" field.
func Decode(raw []byte) (Envelope, error) {
	var wire structpb.Struct
	if err := protojson.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, errors.Decode("parse envelope", err)
	}

	typ, ok := wire.Fields[fieldType].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return Envelope{}, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("field %q must be a string", fieldType).
			Build()
	}

	data, ok := wire.Fields[fieldData].GetKind().(*structpb.Value_StructValue)
	if !ok {
		return Envelope{}, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Type(typ.StringValue).
			Detail("field %q must be an object", fieldData).
			Build()
	}

	return Envelope{Type: typ.StringValue, Data: data.StructValue}, nil
}
