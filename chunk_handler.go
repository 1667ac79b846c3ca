package rtmp

import (
	"encoding/binary"

	"github.com/torresjeff/rtmp-publisher/internal/binary24"
)

const (
	// Timestamp is in indices [0, 3) (half-open range)
	timestampIndexStart = 0
	timestampLength     = 3

	messageLengthIndexStart = 3
	messageLengthLength     = 3

	messageTypeIDIndexStart = 6

	messageStreamIDIndexStart = 7
	messageStreamIDLength     = 4
)

// DecodeChunk reads the chunk header at the front of buf. prev holds the last header seen on each chunk stream and
// supplies the fields that type 1, 2 and 3 chunks don't carry; it isn't modified. It returns the header and the number
// of header bytes, the chunk payload starts right after them.
//
// ErrIncompleteChunk means buf doesn't hold the whole header yet and the caller should wait for more bytes.
func DecodeChunk(buf []byte, prev map[uint32]*ChunkHeader) (*ChunkHeader, int, error) {
	if len(buf) < 1 {
		return nil, 0, ErrIncompleteChunk
	}
	h := &ChunkHeader{
		// Extract chunk type (FMT field) by getting the 2 highest bits (bit 6 and 7 store fmt)
		ChunkType: ChunkType(buf[0] >> 6),
	}
	// Get the chunk stream ID (first 6 bits, bits 0-5). 0x3F == 0011 1111 in binary (our bit mask to extract the lowest 6 bits)
	n := 1
	switch csid := uint32(buf[0] & 0x3F); csid {
	case 0:
		// 2 byte form, ID in the range of 64-319 (the second byte + 64)
		if len(buf) < 2 {
			return nil, 0, ErrIncompleteChunk
		}
		h.ChunkStreamID = uint32(buf[1]) + 64
		n = 2
	case 1:
		// 3 byte form, ID in the range of 64-65599
		if len(buf) < 3 {
			return nil, 0, ErrIncompleteChunk
		}
		h.ChunkStreamID = uint32(binary.BigEndian.Uint16(buf[1:3])) + 64
		n = 3
	default:
		h.ChunkStreamID = csid
	}

	previous, prevChunkExists := prev[h.ChunkStreamID]
	if h.ChunkType != ChunkType0 && h.ChunkType != ChunkType1 && !prevChunkExists {
		return nil, 0, ErrNoPreviousChunkExists
	}

	headerLength := h.ChunkType.messageHeaderLength()
	if len(buf) < n+headerLength {
		return nil, 0, ErrIncompleteChunk
	}
	messageHeader := buf[n : n+headerLength]
	n += headerLength

	switch h.ChunkType {
	//0                   1                   2                   3
	//0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	//+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//|                   timestamp                   |message length |
	//+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//|     message length (cont)     |message type id| msg stream id |
	//+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//|           message stream id (cont)            |
	//+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//
	//	Chunk Message Header - Type 0
	case ChunkType0:
		h.Timestamp = binary24.BigEndian.Uint24(messageHeader[timestampIndexStart:timestampLength])
		h.MessageLength = binary24.BigEndian.Uint24(messageHeader[messageLengthIndexStart : messageLengthIndexStart+messageLengthLength])
		h.MessageType = MessageType(messageHeader[messageTypeIDIndexStart])
		h.MessageStreamID = binary.LittleEndian.Uint32(messageHeader[messageStreamIDIndexStart : messageStreamIDIndexStart+messageStreamIDLength])
	//0                   1                   2                   3
	//0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	//+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//|                timestamp delta                |message length |
	//+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//|     message length (cont)     |message type id|
	//+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//
	//	Chunk Message Header - Type 1
	case ChunkType1:
		h.Timestamp = binary24.BigEndian.Uint24(messageHeader[timestampIndexStart:timestampLength])
		h.MessageLength = binary24.BigEndian.Uint24(messageHeader[messageLengthIndexStart : messageLengthIndexStart+messageLengthLength])
		h.MessageType = MessageType(messageHeader[messageTypeIDIndexStart])
		// Chunk type 1 message headers don't have a message stream ID, the session keeps the binding learned
		// from the last type 0 chunk.
		if prevChunkExists {
			h.MessageStreamID = previous.MessageStreamID
		}
	//0                   1                   2
	//0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3
	//+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//|                timestamp delta                |
	//+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	//
	//	Chunk Message Header - Type 2
	case ChunkType2:
		h.Timestamp = binary24.BigEndian.Uint24(messageHeader[timestampIndexStart:timestampLength])
		h.MessageLength = previous.MessageLength
		h.MessageType = previous.MessageType
		h.MessageStreamID = previous.MessageStreamID
	case ChunkType3:
		// Chunk type 3 message headers don't have any data. All values are taken from the previous header,
		// including the timestamp delta used when this chunk starts a new message.
		h.Timestamp = previous.Timestamp
		h.MessageLength = previous.MessageLength
		h.MessageType = previous.MessageType
		h.MessageStreamID = previous.MessageStreamID
	default:
		return nil, 0, ErrInvalidChunkType
	}

	// A timestamp of 0xFFFFFF indicates an extended timestamp. Type 3 chunks never carry one.
	if h.ChunkType != ChunkType3 && h.Timestamp == max24BitTimestamp {
		if len(buf) < n+extendedTimestampLength {
			return nil, 0, ErrIncompleteChunk
		}
		h.Timestamp = binary.BigEndian.Uint32(buf[n : n+extendedTimestampLength])
		n += extendedTimestampLength
	}

	return h, n, nil
}
