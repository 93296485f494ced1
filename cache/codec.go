package cache

import (
	"encoding/json"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	CodecMsgpack = "msgpack"
	CodecJSON    = "json"
)

// Codec converts records to the bytes stored in the backend. The envelope
// that carries the null sentinel is applied around the codec output, so
// codecs never see the sentinel.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackCodec is the default codec.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                       { return CodecMsgpack }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// JSONCodec trades size for values that stay readable with redis-cli.
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return CodecJSON }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CodecFor returns the codec registered under name. An empty name selects
// msgpack.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", CodecMsgpack:
		return MsgpackCodec{}, nil
	case CodecJSON:
		return JSONCodec{}, nil
	default:
		return nil, goerrors.New(fmt.Sprintf("unknown serializer %q", name), goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidConfig)
	}
}

const (
	envelopeNull  byte = 0x00
	envelopeValue byte = 0x01
)

// nullEnvelope is the stored form of the null sentinel: a record confirmed
// absent from the store.
var nullEnvelope = []byte{envelopeNull}

func encodeEnvelope(codec Codec, v any) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, envelopeValue)
	return append(out, data...), nil
}

// decodeEnvelope reports whether raw is the null sentinel. Otherwise it
// decodes the payload into v.
func decodeEnvelope(codec Codec, raw []byte, v any) (isNull bool, err error) {
	if len(raw) == 0 {
		return false, fmt.Errorf("empty cache entry")
	}
	switch raw[0] {
	case envelopeNull:
		return true, nil
	case envelopeValue:
		return false, codec.Unmarshal(raw[1:], v)
	default:
		return false, fmt.Errorf("unknown cache entry tag 0x%02x", raw[0])
	}
}
