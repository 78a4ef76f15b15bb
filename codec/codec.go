// Package codec turns keys and values into the canonical byte form the
// near cache and partition routing operate on.
package codec

// Codec encodes/decodes values of type V to and from their serialized form.
// Key codecs must be deterministic: the same key must always encode to the
// same bytes, since the blob is used for partition routing and slot identity.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
