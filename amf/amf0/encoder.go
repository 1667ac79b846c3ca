package amf0

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pkg/errors"
)

var ErrKeyTooLong = errors.New("amf0: property key or class name longer than 65535 bytes")

// Encode returns the AMF0 representation of v. A nil Value is encoded as null.
func Encode(v Value) []byte {
	return AppendEncode(make([]byte, 0, Size(v)), v)
}

// EncodeAll encodes every value in order, as done for the body of command and data messages.
func EncodeAll(values ...Value) []byte {
	var size uint64
	for _, v := range values {
		size += Size(v)
	}
	buf := make([]byte, 0, size)
	for _, v := range values {
		buf = AppendEncode(buf, v)
	}
	return buf
}

// AppendEncode appends the AMF0 representation of v to buf and returns the extended slice.
func AppendEncode(buf []byte, v Value) []byte {
	if v == nil {
		return append(buf, TypeNull)
	}
	switch value := v.(type) {
	case Number:
		return appendNumber(buf, float64(value))
	case Boolean:
		if value {
			return append(buf, TypeBoolean, 1)
		}
		return append(buf, TypeBoolean, 0)
	case String:
		return appendString(buf, string(value))
	case Object:
		buf = append(buf, TypeObject)
		return appendProperties(buf, value)
	case Null:
		return append(buf, TypeNull)
	case Undefined:
		return append(buf, TypeUndefined)
	case ECMAArray:
		buf = append(buf, TypeECMAArray)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(value)))
		return appendProperties(buf, Object(value))
	case StrictArray:
		buf = append(buf, TypeStrictArray)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(value)))
		for _, item := range value {
			buf = AppendEncode(buf, item)
		}
		return buf
	case Date:
		buf = append(buf, TypeDate)
		milliseconds := float64(value.Time.UnixNano()) / 1e6
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(milliseconds))
		return binary.BigEndian.AppendUint16(buf, uint16(value.TimeZone))
	case XMLDocument:
		buf = append(buf, TypeXMLDocument)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(value)))
		return append(buf, value...)
	case TypedObject:
		buf = append(buf, TypeTypedObject)
		buf = appendKey(buf, value.ClassName)
		return appendProperties(buf, value.Properties)
	default:
		// Value is closed, this can't be reached with types from this package.
		return append(buf, TypeUndefined)
	}
}

func appendNumber(buf []byte, number float64) []byte {
	buf = append(buf, TypeNumber)
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(number))
}

func appendString(buf []byte, s string) []byte {
	if len(s) < maxShortStringLength {
		// byte 0 => string type (TypeString)
		// bytes 1-2 => string length
		// bytes 3-end => string content
		buf = append(buf, TypeString)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		return append(buf, s...)
	}
	// Strings that require more than 65535 bytes use TypeLongString with a 4 byte length
	buf = append(buf, TypeLongString)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Validate reports an error for values that have no AMF0 encoding: property keys and class names are limited to a
// 16 bit length and Encode would corrupt them.
func Validate(values ...Value) error {
	for _, v := range values {
		if err := validate(v); err != nil {
			return err
		}
	}
	return nil
}

func validate(v Value) error {
	switch value := v.(type) {
	case Object:
		return validateProperties(value)
	case ECMAArray:
		return validateProperties(Object(value))
	case StrictArray:
		return Validate(value...)
	case TypedObject:
		if len(value.ClassName) > math.MaxUint16 {
			return errors.Wrapf(ErrKeyTooLong, "class name of %d bytes", len(value.ClassName))
		}
		return validateProperties(value.Properties)
	}
	return nil
}

func validateProperties(properties Object) error {
	for key, value := range properties {
		if len(key) > math.MaxUint16 {
			return errors.Wrapf(ErrKeyTooLong, "key of %d bytes", len(key))
		}
		if err := validate(value); err != nil {
			return errors.Wrapf(err, "property %q", key)
		}
	}
	return nil
}

// Keys don't encode the TypeString header, they're always short UTF-8 strings. Validate rejects longer ones.
func appendKey(buf []byte, key string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(key)))
	return append(buf, key...)
}

func appendProperties(buf []byte, properties Object) []byte {
	keys := make([]string, 0, len(properties))
	for key := range properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		buf = appendKey(buf, key)
		buf = AppendEncode(buf, properties[key])
	}
	return append(buf, 0x00, 0x00, TypeObjectEnd)
}

// Size returns the number of bytes the value v has in its AMF0 representation.
// Eg: a value v of String("test") will return 7 (3 bytes for the header, 4 bytes for the string)
// Eg: a value v of Number(5) will return 9 (1 byte for the header, 8 bytes for the number)
func Size(v Value) uint64 {
	if v == nil {
		return 1
	}
	switch value := v.(type) {
	case Number:
		return 9
	case Boolean:
		return 2
	case String:
		length := uint64(len(value))
		if length < maxShortStringLength {
			return 3 + length
		}
		return 5 + length
	case Object:
		// 1 byte marker + properties + 3 byte end marker
		return 1 + propertiesSize(value)
	case Null, Undefined:
		return 1
	case ECMAArray:
		// 1 byte marker + 4 byte associative count + properties
		return 5 + propertiesSize(Object(value))
	case StrictArray:
		size := uint64(5)
		for _, item := range value {
			size += Size(item)
		}
		return size
	case Date:
		return 11
	case XMLDocument:
		return 5 + uint64(len(value))
	case TypedObject:
		return 1 + 2 + uint64(len(value.ClassName)) + propertiesSize(value.Properties)
	default:
		return 1
	}
}

func propertiesSize(properties Object) uint64 {
	var size uint64
	for key, value := range properties {
		size += 2 + uint64(len(key)) + Size(value)
	}
	return size + 3
}
