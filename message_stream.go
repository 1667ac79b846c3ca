package rtmp

import (
	"go.uber.org/zap"
)

const DefaultChunkSize = 128

// MessageState is the receive state of one chunk stream.
type MessageState struct {
	// message is the message being assembled, nil between messages.
	message *Message
	// chunkType is the type of the first chunk of message.
	chunkType ChunkType
	// timestamp is the absolute timestamp of the last message started on this chunk stream.
	timestamp uint32
	// last is the last completed message, kept for header reuse.
	last *Message
}

// MessageStream assembles messages from the chunks of an inbound byte stream. Bytes are pushed with Feed as they
// arrive, chunks that aren't complete yet stay buffered until the next call.
type MessageStream struct {
	logger        *zap.SugaredLogger
	readChunkSize uint32
	buf           []byte
	// prevChunkHeader maps the chunk stream ID to the last header decoded on it.
	prevChunkHeader map[uint32]*ChunkHeader
	// messageCache maps the chunk stream ID to information about the message received on that same chunk stream ID.
	// We need this to form a complete message in case it's divided up into multiple chunks (since they can be interleaved).
	messageCache map[uint32]*MessageState
	// streamIDs maps the chunk stream ID to the message stream ID learned from its last type 0 chunk.
	streamIDs map[uint32]uint32
}

func NewMessageStream(logger *zap.SugaredLogger) *MessageStream {
	return &MessageStream{
		logger:          logger,
		readChunkSize:   DefaultChunkSize,
		prevChunkHeader: make(map[uint32]*ChunkHeader),
		messageCache:    make(map[uint32]*MessageState),
		streamIDs:       make(map[uint32]uint32),
	}
}

// SetChunkSize changes the maximum payload size of the chunks that follow.
func (ms *MessageStream) SetChunkSize(size uint32) {
	ms.logger.Debugf("set read chunk size to %d", size)
	ms.readChunkSize = size
}

// Reset drops every buffered byte and all per chunk stream state. It's safe to call from inside a Feed callback,
// Feed returns once the callback does.
func (ms *MessageStream) Reset() {
	ms.readChunkSize = DefaultChunkSize
	ms.buf = nil
	ms.prevChunkHeader = make(map[uint32]*ChunkHeader)
	ms.messageCache = make(map[uint32]*MessageState)
	ms.streamIDs = make(map[uint32]uint32)
}

// Buffered returns the number of bytes waiting for the rest of their chunk.
func (ms *MessageStream) Buffered() int {
	return len(ms.buf)
}

// Feed appends b to the input and calls onMessage for every message it completes, in the order they complete.
// onMessage also receives the type of the message's first chunk.
//
// A framing error drops all buffered input and is returned; later bytes are decoded as if they started a chunk.
func (ms *MessageStream) Feed(b []byte, onMessage func(m *Message, chunkType ChunkType)) error {
	ms.buf = append(ms.buf, b...)
	for len(ms.buf) > 0 {
		h, n, err := DecodeChunk(ms.buf, ms.prevChunkHeader)
		if err == ErrIncompleteChunk {
			return nil
		}
		if err != nil {
			ms.buf = nil
			return err
		}

		state, ok := ms.messageCache[h.ChunkStreamID]
		if !ok {
			state = &MessageState{}
			ms.messageCache[h.ChunkStreamID] = state
		}

		message := state.message
		if message == nil || h.ChunkType != ChunkType3 {
			if message != nil {
				ms.logger.Warnf("chunk stream %d: dropping incomplete %v message (%d of %d bytes), new message started",
					h.ChunkStreamID, message.Type, len(message.Payload), message.Length)
			}
			message = ms.newMessage(h, state)
		}

		take := int(message.Length) - len(message.Payload)
		if take > int(ms.readChunkSize) {
			take = int(ms.readChunkSize)
		}
		if len(ms.buf) < n+take {
			// Wait for the rest of the chunk
			return nil
		}

		if h.ChunkType == ChunkType0 {
			ms.streamIDs[h.ChunkStreamID] = h.MessageStreamID
		}
		ms.prevChunkHeader[h.ChunkStreamID] = h
		if message != state.message {
			state.message = message
			state.chunkType = h.ChunkType
			state.timestamp = message.Timestamp
		}
		message.Payload = append(message.Payload, ms.buf[n:n+take]...)
		ms.buf = ms.buf[n+take:]

		if message.Ready() {
			state.message = nil
			state.last = message
			onMessage(message, state.chunkType)
		}
	}
	return nil
}

// newMessage starts a message from the header of its first chunk. Its timestamp is absolute for type 0 chunks and
// the previous timestamp of the chunk stream plus the delta otherwise.
func (ms *MessageStream) newMessage(h *ChunkHeader, state *MessageState) *Message {
	timestamp := h.Timestamp
	if h.ChunkType != ChunkType0 {
		timestamp = state.timestamp + h.Timestamp
	}
	streamID := h.MessageStreamID
	if h.ChunkType == ChunkType1 {
		if id, ok := ms.streamIDs[h.ChunkStreamID]; ok {
			streamID = id
		}
	}
	// The length comes from the peer, the payload grows with the chunks that actually arrive.
	capacity := h.MessageLength
	if capacity > ms.readChunkSize {
		capacity = ms.readChunkSize
	}
	return &Message{
		Type:      h.MessageType,
		StreamID:  streamID,
		Timestamp: timestamp,
		Length:    h.MessageLength,
		Payload:   make([]byte, 0, capacity),
	}
}
