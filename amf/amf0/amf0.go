// Package amf0 implements the Action Message Format version 0 used by RTMP command and data messages.
//
// Values are modelled as a closed set of Go types implementing Value, so encoding and decoding are total:
// every marker the decoder accepts maps to exactly one Go type, and every Go type encodes to exactly one marker.
package amf0

import (
	"time"
)

const (
	TypeNumber      byte = 0x00
	TypeBoolean     byte = 0x01
	TypeString      byte = 0x02
	TypeObject      byte = 0x03
	TypeMovieClip   byte = 0x04 // reserved, not supported
	TypeNull        byte = 0x05
	TypeUndefined   byte = 0x06
	TypeReference   byte = 0x07
	TypeECMAArray   byte = 0x08
	TypeObjectEnd   byte = 0x09
	TypeStrictArray byte = 0x0A
	TypeDate        byte = 0x0B
	TypeLongString  byte = 0x0C
	TypeUnsupported byte = 0x0D
	TypeRecordSet   byte = 0x0E // reserved, not supported
	TypeXMLDocument byte = 0x0F
	TypeTypedObject byte = 0x10
)

// Strings of this length or longer are encoded as long strings.
const maxShortStringLength = 0xFFFF

// Value is an AMF0 value. The implementations in this package are the only ones.
type Value interface {
	marker() byte
}

type Number float64

type Boolean bool

type String string

// Object is an anonymous ActionScript object. Keys are encoded in sorted order so output is deterministic.
type Object map[string]Value

type Null struct{}

type Undefined struct{}

// ECMAArray is an associative array. It is encoded like an Object, preceded by a 4 byte property count.
type ECMAArray map[string]Value

type StrictArray []Value

// Date is a point in time with millisecond precision. TimeZone is carried on the wire but should be 0.
type Date struct {
	Time     time.Time
	TimeZone int16
}

type XMLDocument string

// TypedObject is an object whose class was registered with a name on the sending side.
type TypedObject struct {
	ClassName  string
	Properties Object
}

func (Number) marker() byte { return TypeNumber }
func (Boolean) marker() byte { return TypeBoolean }
func (s String) marker() byte {
	if len(s) >= maxShortStringLength {
		return TypeLongString
	}
	return TypeString
}
func (Object) marker() byte { return TypeObject }
func (Null) marker() byte { return TypeNull }
func (Undefined) marker() byte { return TypeUndefined }
func (ECMAArray) marker() byte { return TypeECMAArray }
func (StrictArray) marker() byte { return TypeStrictArray }
func (Date) marker() byte { return TypeDate }
func (XMLDocument) marker() byte { return TypeXMLDocument }
func (TypedObject) marker() byte { return TypeTypedObject }

// GetString returns the string stored under key, if there is one.
func (o Object) GetString(key string) (string, bool) {
	s, ok := o[key].(String)
	return string(s), ok
}

// GetNumber returns the number stored under key, if there is one.
func (o Object) GetNumber(key string) (float64, bool) {
	n, ok := o[key].(Number)
	return float64(n), ok
}

// AsObject returns the properties of v when v is an Object, an ECMAArray or a TypedObject.
// Servers are free to send any of the three where an object is expected (eg. the onStatus info object).
func AsObject(v Value) (Object, bool) {
	switch o := v.(type) {
	case Object:
		return o, true
	case ECMAArray:
		return Object(o), true
	case TypedObject:
		return o.Properties, true
	default:
		return nil, false
	}
}
