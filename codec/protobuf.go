package codec

import (
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf stores values as a google.protobuf.Value in binary wire format.
// Arbitrary Go values are first mapped through their JSON form, so the same
// struct tags apply and numbers come back as float64.
type Protobuf struct{}

func (Protobuf) Name() string { return "protobuf" }

func (Protobuf) Marshal(v any) ([]byte, error) {
	j, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(j, &generic); err != nil {
		return nil, err
	}
	pv, err := structpb.NewValue(generic)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(pv)
}

func (Protobuf) Unmarshal(b []byte, v any) error {
	var pv structpb.Value
	if err := proto.Unmarshal(b, &pv); err != nil {
		return err
	}
	j, err := protojson.Marshal(&pv)
	if err != nil {
		return err
	}
	return json.Unmarshal(j, v)
}
