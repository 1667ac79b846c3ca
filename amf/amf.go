// Package amf selects the object encoding of RTMP command and data message bodies.
//
// Only AMF0 values are supported. AMF3 messages (types 15 and 17) carry a leading format selector byte, which is
// always 0 for bodies written in AMF0, so they're handled by skipping or writing that byte and delegating to amf0.
package amf

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/amf/amf0"
)

const AMFVersion0 uint8 = 0
const AMFVersion3 uint8 = 3

// Encode serializes values in order for the given object encoding.
func Encode(version uint8, values ...amf0.Value) ([]byte, error) {
	if err := amf0.Validate(values...); err != nil {
		return nil, err
	}
	switch version {
	case AMFVersion0:
		return amf0.EncodeAll(values...), nil
	case AMFVersion3:
		return append([]byte{0x00}, amf0.EncodeAll(values...)...), nil
	default:
		return nil, errors.New(fmt.Sprintf("unsupported AMF version %d", version))
	}
}

// NewDecoder returns a decoder positioned at the first value of a body written with the given object encoding.
func NewDecoder(b []byte, version uint8) (*amf0.Decoder, error) {
	d := amf0.NewDecoder(b)
	switch version {
	case AMFVersion0:
		return d, nil
	case AMFVersion3:
		if err := d.Skip(1); err != nil {
			return nil, errors.Wrap(err, "amf3 format selector")
		}
		return d, nil
	default:
		return nil, errors.New(fmt.Sprintf("unsupported AMF version %d", version))
	}
}
