package binary24

var BigEndian bigEndian

type bigEndian struct{}

func (bigEndian) Uint24(b []byte) uint32 {
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16
}

func (bigEndian) PutUint24(b []byte, v uint32) {
	_ = b[2] // early bounds check to guarantee safety of writes below
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// Int24 reads a signed 24-bit big endian value (SI24), as used by the FLV composition time field.
func (e bigEndian) Int24(b []byte) int32 {
	v := e.Uint24(b)
	// Shift the sign bit into bit 31 and back so negative values are sign extended.
	return int32(v<<8) >> 8
}

// PutInt24 writes the low 24 bits of v. Values outside [-2^23, 2^23) are truncated.
func (e bigEndian) PutInt24(b []byte, v int32) {
	e.PutUint24(b, uint32(v)&0xFFFFFF)
}

// AppendUint24 appends v as 3 big endian bytes.
func (bigEndian) AppendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v>>16), byte(v>>8), byte(v))
}
