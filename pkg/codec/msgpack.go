// Package codec wraps the msgpack encoding used for every value written to
// the key-value store (domain entities, idempotency records, stream entries).
package codec

import "github.com/vmihailenco/msgpack/v5"

// Encode serialises v as msgpack.
func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode parses a msgpack blob into v.
func Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
