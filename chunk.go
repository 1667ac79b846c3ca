package rtmp

import (
	"encoding/binary"

	"github.com/torresjeff/rtmp-publisher/internal/binary24"
)

type ChunkType uint8

const (
	ChunkType0 ChunkType = iota
	ChunkType1
	ChunkType2
	ChunkType3
)

const (
	chunkType0MessageHeaderLength = 11
	chunkType1MessageHeaderLength = 7
	chunkType2MessageHeaderLength = 3

	extendedTimestampLength = 4
	max24BitTimestamp       = 0xFFFFFF
)

func (t ChunkType) messageHeaderLength() int {
	switch t {
	case ChunkType0:
		return chunkType0MessageHeaderLength
	case ChunkType1:
		return chunkType1MessageHeaderLength
	case ChunkType2:
		return chunkType2MessageHeaderLength
	default:
		return 0
	}
}

// ChunkHeader contains the information used in order to interpret a chunk correctly.
// Fields that a chunk type doesn't carry on the wire are inherited from the previous header of the same chunk stream.
type ChunkHeader struct {
	ChunkType     ChunkType
	ChunkStreamID uint32
	// Timestamp is the absolute timestamp for type 0 chunks and the timestamp delta for the other types. The
	// extended timestamp has already been resolved, so it can hold the full 32 bit value.
	Timestamp       uint32
	MessageLength   uint32
	MessageType     MessageType
	MessageStreamID uint32
}

// Chunk is a message and the header used to send its first chunk.
type Chunk struct {
	Header  ChunkHeader
	Payload []byte
}

// basicHeader encodes the chunk type and chunk stream ID.
// IDs 2-63 use 1 byte, 64-319 use 2 bytes (second byte + 64) and 320-65599 use 3 bytes (big endian + 64).
func basicHeader(chunkType ChunkType, csid uint32) []byte {
	return appendBasicHeader(nil, chunkType, csid)
}

func appendBasicHeader(b []byte, chunkType ChunkType, csid uint32) []byte {
	fmtBits := byte(chunkType) << 6
	switch {
	case csid <= 63:
		return append(b, fmtBits|byte(csid))
	case csid <= 319:
		return append(b, fmtBits, byte(csid-64))
	default:
		return binary.BigEndian.AppendUint16(append(b, fmtBits|1), uint16(csid-64))
	}
}

func basicHeaderLength(csid uint32) int {
	switch {
	case csid <= 63:
		return 1
	case csid <= 319:
		return 2
	default:
		return 3
	}
}

// EncodeChunk encodes the basic header, the message header fields present for the chunk type, the extended
// timestamp when the timestamp doesn't fit in 24 bits, and the complete payload. The message length field is always
// the payload length.
func EncodeChunk(c *Chunk) []byte {
	h := &c.Header
	headerLength := basicHeaderLength(h.ChunkStreamID) + h.ChunkType.messageHeaderLength()
	extended := h.ChunkType != ChunkType3 && h.Timestamp >= max24BitTimestamp
	if extended {
		headerLength += extendedTimestampLength
	}

	b := make([]byte, 0, headerLength+len(c.Payload))
	b = appendBasicHeader(b, h.ChunkType, h.ChunkStreamID)
	if h.ChunkType != ChunkType3 {
		if extended {
			b = append(b, 0xFF, 0xFF, 0xFF)
		} else {
			b = binary24.BigEndian.AppendUint24(b, h.Timestamp)
		}
	}
	if h.ChunkType == ChunkType0 || h.ChunkType == ChunkType1 {
		b = binary24.BigEndian.AppendUint24(b, uint32(len(c.Payload)))
		b = append(b, byte(h.MessageType))
	}
	if h.ChunkType == ChunkType0 {
		// NOTE: message stream ID is stored in little endian format
		b = binary.LittleEndian.AppendUint32(b, h.MessageStreamID)
	}
	if extended {
		b = binary.BigEndian.AppendUint32(b, h.Timestamp)
	}
	return append(b, c.Payload...)
}

// Split encodes c and cuts it into wire chunks of at most chunkSize payload bytes. The first chunk carries the full
// header, every following one is prefixed with a type 3 basic header for the same chunk stream.
func Split(c *Chunk, chunkSize int) [][]byte {
	data := EncodeChunk(c)
	if chunkSize <= 0 || len(c.Payload) <= chunkSize {
		return [][]byte{data}
	}
	start := len(data) - len(c.Payload) + chunkSize
	continuation := basicHeader(ChunkType3, c.Header.ChunkStreamID)
	chunks := [][]byte{data[:start]}
	for i := start; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, 0, len(continuation)+end-i)
		chunk = append(chunk, continuation...)
		chunks = append(chunks, append(chunk, data[i:end]...))
	}
	return chunks
}

// encodeSplit returns the wire chunks of c as one contiguous buffer.
func encodeSplit(c *Chunk, chunkSize int) []byte {
	chunks := Split(c, chunkSize)
	if len(chunks) == 1 {
		return chunks[0]
	}
	n := 0
	for _, chunk := range chunks {
		n += len(chunk)
	}
	b := make([]byte, 0, n)
	for _, chunk := range chunks {
		b = append(b, chunk...)
	}
	return b
}
