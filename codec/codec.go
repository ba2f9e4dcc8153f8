// Package codec turns cached values into bytes and back. Codecs used for
// datasource results must decode objects as map[string]any, which token
// paths walk.
package codec

type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
