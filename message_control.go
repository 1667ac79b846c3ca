package rtmp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type UserControlEvent uint16

const (
	UserControlStreamBegin     UserControlEvent = 0
	UserControlStreamEOF       UserControlEvent = 1
	UserControlStreamDry       UserControlEvent = 2
	UserControlSetBufferLength UserControlEvent = 3
	UserControlStreamRecorded  UserControlEvent = 4
	UserControlPingRequest     UserControlEvent = 6
	UserControlPingResponse    UserControlEvent = 7
	UserControlBufferEmpty     UserControlEvent = 0x1F
	UserControlBufferFull      UserControlEvent = 0x20
)

func (e UserControlEvent) String() string {
	switch e {
	case UserControlStreamBegin:
		return "StreamBegin"
	case UserControlStreamEOF:
		return "StreamEOF"
	case UserControlStreamDry:
		return "StreamDry"
	case UserControlSetBufferLength:
		return "SetBufferLength"
	case UserControlStreamRecorded:
		return "StreamIsRecorded"
	case UserControlPingRequest:
		return "PingRequest"
	case UserControlPingResponse:
		return "PingResponse"
	case UserControlBufferEmpty:
		return "BufferEmpty"
	case UserControlBufferFull:
		return "BufferFull"
	default:
		return "Unknown"
	}
}

func readUint32(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, errors.Wrapf(ErrShortPayload, "expected 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// SetChunkSize sets the maximum chunk payload size for the direction the message travels.
type SetChunkSize struct {
	Size uint32
}

func (*SetChunkSize) Type() MessageType { return MessageTypeSetChunkSize }

func (m *SetChunkSize) MarshalRTMPMessage() ([]byte, error) {
	// The first bit must be zero
	return binary.BigEndian.AppendUint32(nil, m.Size&0x7FFFFFFF), nil
}

func (m *SetChunkSize) UnmarshalRTMPMessage(payload []byte) error {
	size, err := readUint32(payload)
	m.Size = size & 0x7FFFFFFF
	return err
}

// Abort tells the peer to discard the partially received message on a chunk stream.
type Abort struct {
	ChunkStreamID uint32
}

func (*Abort) Type() MessageType { return MessageTypeAbort }

func (m *Abort) MarshalRTMPMessage() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, m.ChunkStreamID), nil
}

func (m *Abort) UnmarshalRTMPMessage(payload []byte) (err error) {
	m.ChunkStreamID, err = readUint32(payload)
	return err
}

// Acknowledgement reports the number of bytes received so far.
type Acknowledgement struct {
	SequenceNumber uint32
}

func (*Acknowledgement) Type() MessageType { return MessageTypeAck }

func (m *Acknowledgement) MarshalRTMPMessage() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, m.SequenceNumber), nil
}

func (m *Acknowledgement) UnmarshalRTMPMessage(payload []byte) (err error) {
	m.SequenceNumber, err = readUint32(payload)
	return err
}

// WindowAckSize is the number of bytes after which the receiver must send an Acknowledgement.
type WindowAckSize struct {
	Size uint32
}

func (*WindowAckSize) Type() MessageType { return MessageTypeWindowAckSize }

func (m *WindowAckSize) MarshalRTMPMessage() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, m.Size), nil
}

func (m *WindowAckSize) UnmarshalRTMPMessage(payload []byte) (err error) {
	m.Size, err = readUint32(payload)
	return err
}

// SetPeerBandwidth limits the output bandwidth of the peer. Limit is one of LimitHard, LimitSoft or LimitDynamic:
// 0 - Hard: The peer SHOULD limit its output bandwidth to the indicated window size.
// 1 - Soft: The peer SHOULD limit its output bandwidth to the the window indicated in this message or the limit already in effect, whichever is smaller.
// 2 - Dynamic: If the previous Limit Type was Hard, treat this message as though it was marked Hard, otherwise ignore this message.
type SetPeerBandwidth struct {
	Size  uint32
	Limit uint8
}

func (*SetPeerBandwidth) Type() MessageType { return MessageTypeSetPeerBandwidth }

func (m *SetPeerBandwidth) MarshalRTMPMessage() ([]byte, error) {
	return append(binary.BigEndian.AppendUint32(nil, m.Size), m.Limit), nil
}

func (m *SetPeerBandwidth) UnmarshalRTMPMessage(payload []byte) error {
	if len(payload) < 5 {
		return errors.Wrapf(ErrShortPayload, "expected 5 bytes, got %d", len(payload))
	}
	m.Size = binary.BigEndian.Uint32(payload)
	m.Limit = payload[4]
	return nil
}

// UserControl carries a 2 byte event type and its 4 byte value (a stream ID or a ping timestamp).
// SetBufferLength events carry the buffer length in milliseconds as a second value.
type UserControl struct {
	Event        UserControlEvent
	Value        uint32
	BufferLength uint32
}

func (*UserControl) Type() MessageType { return MessageTypeUserControl }

func (m *UserControl) MarshalRTMPMessage() ([]byte, error) {
	b := binary.BigEndian.AppendUint16(make([]byte, 0, 10), uint16(m.Event))
	b = binary.BigEndian.AppendUint32(b, m.Value)
	if m.Event == UserControlSetBufferLength {
		b = binary.BigEndian.AppendUint32(b, m.BufferLength)
	}
	return b, nil
}

func (m *UserControl) UnmarshalRTMPMessage(payload []byte) error {
	if len(payload) < 6 {
		return errors.Wrapf(ErrShortPayload, "expected 6 bytes, got %d", len(payload))
	}
	m.Event = UserControlEvent(binary.BigEndian.Uint16(payload))
	m.Value = binary.BigEndian.Uint32(payload[2:])
	if m.Event == UserControlSetBufferLength {
		if len(payload) < 10 {
			return errors.Wrapf(ErrShortPayload, "expected 10 bytes, got %d", len(payload))
		}
		m.BufferLength = binary.BigEndian.Uint32(payload[6:])
	}
	return nil
}
