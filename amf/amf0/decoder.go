package amf0

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

var ErrUnexpectedEnd = errors.New("amf0: unexpected end of buffer")
var ErrUnsupportedType = errors.New("amf0: unsupported type")
var ErrInvalidReference = errors.New("amf0: reference to an unknown object")
var ErrMaxDepth = errors.New("amf0: values nested too deep")

// MaxDepth is the deepest nesting of objects and arrays the decoder accepts.
const MaxDepth = 64

// Decoder reads consecutive AMF0 values from a byte slice. Complex values (objects, arrays, typed objects) are
// remembered in the order they're read so that later references (TypeReference) can be resolved.
type Decoder struct {
	buf        []byte
	pos        int
	depth      int
	references []Value
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Len returns the number of bytes that haven't been decoded yet.
func (d *Decoder) Len() int {
	return len(d.buf) - d.pos
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int {
	return d.pos
}

// Skip discards n bytes, eg. the format selector byte that precedes an AMF0 body in AMF3 messages.
func (d *Decoder) Skip(n int) error {
	if d.Len() < n {
		return ErrUnexpectedEnd
	}
	d.pos += n
	return nil
}

// Decode returns the original form of the next encoded value, or an error if any occurred.
// Long strings are returned as String, unsupported markers as Undefined and references as the value they point to.
func (d *Decoder) Decode() (Value, error) {
	marker, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch marker {
	case TypeObject, TypeECMAArray, TypeStrictArray, TypeTypedObject:
		if d.depth >= MaxDepth {
			return nil, errors.Wrapf(ErrMaxDepth, "offset %d", d.pos-1)
		}
		d.depth++
		defer func() { d.depth-- }()
	}
	switch marker {
	case TypeNumber:
		n, err := d.readFloat64()
		return Number(n), err
	case TypeBoolean:
		b, err := d.readByte()
		return Boolean(b != 0), err
	case TypeString:
		s, err := d.readShortString()
		return String(s), err
	case TypeLongString:
		s, err := d.readLongString()
		return String(s), err
	case TypeObject:
		obj := make(Object)
		d.references = append(d.references, obj)
		if err := d.readProperties(obj); err != nil {
			return nil, err
		}
		return obj, nil
	case TypeNull:
		return Null{}, nil
	case TypeUndefined, TypeUnsupported:
		return Undefined{}, nil
	case TypeReference:
		index, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		if int(index) >= len(d.references) {
			return nil, errors.Wrapf(ErrInvalidReference, "index %d", index)
		}
		return d.references[index], nil
	case TypeECMAArray:
		// The associative count is only a hint, some encoders get it wrong. The array ends with an object end marker.
		if _, err := d.readUint32(); err != nil {
			return nil, err
		}
		arr := make(ECMAArray)
		d.references = append(d.references, arr)
		if err := d.readProperties(Object(arr)); err != nil {
			return nil, err
		}
		return arr, nil
	case TypeStrictArray:
		count, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		// Every item takes at least 1 byte, so a count bigger than what is left can only be garbage
		if int(count) > d.Len() {
			return nil, errors.Wrapf(ErrUnexpectedEnd, "strict array of %d items", count)
		}
		arr := make(StrictArray, 0, count)
		index := len(d.references)
		d.references = append(d.references, arr)
		for i := uint32(0); i < count; i++ {
			item, err := d.Decode()
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		d.references[index] = arr
		return arr, nil
	case TypeDate:
		milliseconds, err := d.readFloat64()
		if err != nil {
			return nil, err
		}
		timeZone, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return Date{Time: time.Unix(0, int64(milliseconds*1e6)), TimeZone: int16(timeZone)}, nil
	case TypeXMLDocument:
		s, err := d.readLongString()
		return XMLDocument(s), err
	case TypeTypedObject:
		className, err := d.readShortString()
		if err != nil {
			return nil, err
		}
		obj := TypedObject{ClassName: className, Properties: make(Object)}
		d.references = append(d.references, obj)
		if err := d.readProperties(obj.Properties); err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "marker 0x%02x at offset %d", marker, d.pos-1)
	}
}

func (d *Decoder) readProperties(obj Object) error {
	for {
		key, err := d.readShortString()
		if err != nil {
			return err
		}
		// An empty key followed by the object end marker closes the object
		if key == "" && d.Len() > 0 && d.buf[d.pos] == TypeObjectEnd {
			d.pos++
			return nil
		}
		value, err := d.Decode()
		if err != nil {
			return errors.Wrapf(err, "property %q", key)
		}
		obj[key] = value
	}
}

func (d *Decoder) readByte() (byte, error) {
	if d.Len() < 1 {
		return 0, ErrUnexpectedEnd
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readUint16() (uint16, error) {
	if d.Len() < 2 {
		return 0, ErrUnexpectedEnd
	}
	v := binary.BigEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *Decoder) readUint32() (uint32, error) {
	if d.Len() < 4 {
		return 0, ErrUnexpectedEnd
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *Decoder) readFloat64() (float64, error) {
	if d.Len() < 8 {
		return 0, ErrUnexpectedEnd
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(d.buf[d.pos:]))
	d.pos += 8
	return v, nil
}

func (d *Decoder) readShortString() (string, error) {
	length, err := d.readUint16()
	if err != nil {
		return "", err
	}
	return d.readBytes(int(length))
}

func (d *Decoder) readLongString() (string, error) {
	length, err := d.readUint32()
	if err != nil {
		return "", err
	}
	return d.readBytes(int(length))
}

func (d *Decoder) readBytes(n int) (string, error) {
	if n < 0 || d.Len() < n {
		return "", ErrUnexpectedEnd
	}
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n
	return s, nil
}

// Decode decodes a single value from the start of b and returns it along with the number of bytes it used.
func Decode(b []byte) (Value, int, error) {
	d := NewDecoder(b)
	v, err := d.Decode()
	return v, d.Offset(), err
}

// DecodeAll decodes values until b is exhausted.
func DecodeAll(b []byte) ([]Value, error) {
	d := NewDecoder(b)
	var values []Value
	for d.Len() > 0 {
		v, err := d.Decode()
		if err != nil {
			return values, err
		}
		values = append(values, v)
	}
	return values, nil
}
