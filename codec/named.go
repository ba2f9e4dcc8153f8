package codec

import "fmt"

// ForName returns the `any` codec registered under name
// ("json", "msgpack", "cbor", "protobuf"). Empty name => JSON.
func ForName(name string) (Codec[any], error) {
	switch name {
	case "", "json":
		return JSON[any]{}, nil
	case "msgpack":
		return Msgpack[any]{}, nil
	case "cbor":
		c, err := NewCBOR[any](true)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "protobuf", "proto":
		return Struct{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
