package kvstore

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding tags the codec a payload was written under. Recorded with
// every value pointer so decode can pick the inverse without guessing.
type Encoding string

const (
	// EncodingBytes payloads are stored verbatim.
	EncodingBytes Encoding = "bytes"
	// EncodingJSON payloads are the canonical textual encoding of a
	// builtin-shaped value (numbers, strings, bools, nil, slices, maps).
	EncodingJSON Encoding = "json"
	// EncodingOpaque payloads went through the pluggable object-graph
	// codec for everything else.
	EncodingOpaque Encoding = "opaque"
)

// encodeValue classifies v and returns its encoded payload plus the tag
// it was encoded under. Order matters: a raw byte slice must be caught
// before the JSON-representable check, or []byte would be mis-tagged as
// an array of numbers.
func encodeValue(v interface{}) ([]byte, Encoding, error) {
	if b, ok := v.([]byte); ok {
		return b, EncodingBytes, nil
	}

	if isJSONRepresentable(v) {
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, "", errCodec(err, "encode json")
		}
		return payload, EncodingJSON, nil
	}

	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, "", errCodec(err, "encode opaque")
	}
	return payload, EncodingOpaque, nil
}

// decodeValue is the inverse of encodeValue, dispatching on the recorded
// tag. An unrecognized tag is a corrupt index entry, not a codec error —
// it can only arise from a hand-edited or bit-flipped key-log line.
func decodeValue(payload []byte, enc Encoding) (interface{}, error) {
	switch enc {
	case EncodingBytes:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case EncodingJSON:
		var v interface{}
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, errCodec(err, "decode json")
		}
		return v, nil
	case EncodingOpaque:
		var v interface{}
		if err := msgpack.Unmarshal(payload, &v); err != nil {
			return nil, errCodec(err, "decode opaque")
		}
		return v, nil
	default:
		return nil, errCorrupt(nil, "unknown encoding tag "+string(enc))
	}
}

// isJSONRepresentable reports whether v is built only from the scalar
// and container set the textual structured encoding covers: nil, bool,
// numbers, string, and []interface{} / map[string]interface{} built
// from the same. Typed slices and maps (e.g. []int, map[string]string)
// are not matched and fall through to the opaque codec.
func isJSONRepresentable(v interface{}) bool {
	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	case []interface{}:
		for _, e := range t {
			if !isJSONRepresentable(e) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		for _, e := range t {
			if !isJSONRepresentable(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
