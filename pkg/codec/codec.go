// Package codec converts typed payloads to and from the opaque string values
// stored in a queue.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
)

// Codec encodes and decodes values of type T.
type Codec[T any] interface {
	Encode(v T) (string, error)
	Decode(s string) (T, error)
}

type gobCodec[T any] struct{}

// Gob returns a Codec using encoding/gob. Interface-typed fields need their
// concrete types registered with gob.Register.
func Gob[T any]() Codec[T] { return gobCodec[T]{} }

func (gobCodec[T]) Encode(v T) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (gobCodec[T]) Decode(s string) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader([]byte(s))).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}

type jsonCodec[T any] struct{}

// JSON returns a Codec using encoding/json. Payloads stay readable for other
// clients of the same store.
func JSON[T any]() Codec[T] { return jsonCodec[T]{} }

func (jsonCodec[T]) Encode(v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (jsonCodec[T]) Decode(s string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
