// Package rtmp implements the publishing side of an RTMP connection: the plain handshake, the chunk stream codec,
// the message model, the NetConnection session and NetStream publishing.
//
// All session and stream state is owned by the goroutine running Session.Run. Transport callbacks and the exported
// methods of Session and Stream post closures to that goroutine, so none of the internal state needs locking.
package rtmp

// RtmpVersion3 is the only version of the plain handshake.
const RtmpVersion3 = 3

// Chunk stream IDs used for outbound messages. Only the protocol channel (csid = 2) is fixed by the protocol, the others
// keep the same kind of data in the same chunk stream.
const (
	ProtocolChannel uint32 = 2
	CommandChannel  uint32 = 3
	AudioChannel    uint32 = 4
	VideoChannel    uint32 = 7
	DataChannel     uint32 = 8
)

// Maximum chunk stream ID that fits in the 3 byte basic header.
const MaxChunkStreamID uint32 = 65599

const (
	LimitHard    uint8 = 0
	LimitSoft    uint8 = 1
	LimitDynamic uint8 = 2
)
