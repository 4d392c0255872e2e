package kvstore

import "encoding/json"

const (
	entryTypeSet = "set"
	entryTypeDel = "del"
)

// indexEntry is the in-memory shape of one key-log line. Offset, Size and
// Encoding are meaningful only for entryTypeSet; Expiration is optional
// even for a set.
type indexEntry struct {
	Type       string
	Timestamp  int64
	Key        interface{}
	Encoding   Encoding
	Offset     int64
	Size       int64
	Expiration *int64
	Checksum   uint32
}

// canonicalMap builds the field set that is checksummed and persisted,
// excluding the checksum field itself. Map keys marshal in sorted order
// under encoding/json, which is what makes this form deterministic
// regardless of how the entry was built (typed Go values on write,
// decoded generic values on replay).
func (e *indexEntry) canonicalMap() map[string]interface{} {
	m := map[string]interface{}{
		"type":      e.Type,
		"timestamp": e.Timestamp,
		"key":       e.Key,
	}
	if e.Type == entryTypeSet {
		m["encoding"] = e.Encoding
		m["offset"] = e.Offset
		m["size"] = e.Size
		if e.Expiration != nil {
			m["expiration"] = *e.Expiration
		}
	}
	return m
}

// canonicalBytes is the exact byte sequence the checksum is computed
// over (before appending ":" and the payload, for sets).
func (e *indexEntry) canonicalBytes() ([]byte, error) {
	return json.Marshal(e.canonicalMap())
}

// marshalLine renders the full entry, checksum included, as one
// newline-terminated key-log line.
func (e *indexEntry) marshalLine() ([]byte, error) {
	m := e.canonicalMap()
	m["checksum"] = e.Checksum
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// parseEntryLine decodes one key-log line back into an indexEntry. JSON
// numbers decode as float64; offsets/sizes/timestamps are converted back
// to int64, which is lossless for any size this store will see in
// practice.
func parseEntryLine(line []byte) (*indexEntry, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, errCorrupt(err, "parse entry")
	}

	typ, ok := raw["type"].(string)
	if !ok || (typ != entryTypeSet && typ != entryTypeDel) {
		return nil, errCorrupt(nil, "missing or invalid type field")
	}
	ts, ok := raw["timestamp"].(float64)
	if !ok {
		return nil, errCorrupt(nil, "missing or invalid timestamp field")
	}
	key, ok := raw["key"]
	if !ok {
		return nil, errCorrupt(nil, "missing key field")
	}
	checksumF, ok := raw["checksum"].(float64)
	if !ok {
		return nil, errCorrupt(nil, "missing or invalid checksum field")
	}

	e := &indexEntry{
		Type:      typ,
		Timestamp: int64(ts),
		Key:       key,
		Checksum:  uint32(checksumF),
	}

	if typ == entryTypeSet {
		encStr, ok := raw["encoding"].(string)
		if !ok {
			return nil, errCorrupt(nil, "missing or invalid encoding field")
		}
		e.Encoding = Encoding(encStr)

		offF, ok := raw["offset"].(float64)
		if !ok {
			return nil, errCorrupt(nil, "missing or invalid offset field")
		}
		e.Offset = int64(offF)

		sizeF, ok := raw["size"].(float64)
		if !ok {
			return nil, errCorrupt(nil, "missing or invalid size field")
		}
		e.Size = int64(sizeF)

		if expF, ok := raw["expiration"].(float64); ok {
			exp := int64(expF)
			e.Expiration = &exp
		}
	}

	return e, nil
}

// canonicalKey renders a caller-supplied or replay-decoded key to the
// string used as the in-memory index's map key. Both a native Go int and
// the float64 that the same value decodes to on replay render to the
// same digits, so lookups agree across a reopen.
func canonicalKey(key interface{}) (string, error) {
	b, err := json.Marshal(key)
	if err != nil {
		return "", errCodec(err, "encode key")
	}
	return string(b), nil
}

// valuePointer is the in-memory index row: where the payload lives in
// the value-log, how it was encoded, and when it was written/expires.
type valuePointer struct {
	Timestamp  int64
	Expiration *int64
	Offset     int64
	Size       int64
	Encoding   Encoding
}

func (p *valuePointer) isExpired(nowMillis int64) bool {
	if p.Expiration == nil {
		return false
	}
	return nowMillis > *p.Expiration
}
