package comm

import (
	"github.com/pkg/errors"
)

// Structs

// RawCodec is a gRPC codec that passes already
// encoded messages through untouched. Messages are
// exchanged as *[]byte.
type RawCodec struct{}

// Functions

// Marshal returns the bytes v points to.
func (RawCodec) Marshal(v any) ([]byte, error) {

	b, ok := v.(*[]byte)
	if !ok {
		return nil, errors.Errorf("raw codec cannot marshal %T", v)
	}

	return *b, nil
}

// Unmarshal stores a copy of data in v.
func (RawCodec) Unmarshal(data []byte, v any) error {

	b, ok := v.(*[]byte)
	if !ok {
		return errors.Errorf("raw codec cannot unmarshal into %T", v)
	}

	*b = append([]byte{}, data...)

	return nil
}

// Name identifies the codec in the content-type of calls.
func (RawCodec) Name() string {
	return "causaldoc-raw"
}
