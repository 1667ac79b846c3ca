package rtmp

import (
	"fmt"

	"github.com/pkg/errors"
)

type MessageType uint8

const (
	// Control messages MUST have message stream ID 0 and be sent in chunk stream ID 2
	MessageTypeSetChunkSize     MessageType = 1
	MessageTypeAbort            MessageType = 2
	MessageTypeAck              MessageType = 3
	MessageTypeUserControl      MessageType = 4
	MessageTypeWindowAckSize    MessageType = 5
	MessageTypeSetPeerBandwidth MessageType = 6

	MessageTypeAudio MessageType = 8
	MessageTypeVideo MessageType = 9

	MessageTypeDataAMF3    MessageType = 15
	MessageTypeCommandAMF3 MessageType = 17
	MessageTypeDataAMF0    MessageType = 18
	MessageTypeCommandAMF0 MessageType = 20

	MessageTypeAggregate MessageType = 22
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeSetChunkSize:
		return "SetChunkSize"
	case MessageTypeAbort:
		return "Abort"
	case MessageTypeAck:
		return "Acknowledgement"
	case MessageTypeUserControl:
		return "UserControl"
	case MessageTypeWindowAckSize:
		return "WindowAckSize"
	case MessageTypeSetPeerBandwidth:
		return "SetPeerBandwidth"
	case MessageTypeAudio:
		return "Audio"
	case MessageTypeVideo:
		return "Video"
	case MessageTypeDataAMF3:
		return "DataAMF3"
	case MessageTypeCommandAMF3:
		return "CommandAMF3"
	case MessageTypeDataAMF0:
		return "DataAMF0"
	case MessageTypeCommandAMF0:
		return "CommandAMF0"
	case MessageTypeAggregate:
		return "Aggregate"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Message defines the basic structure of a message that is sent through the RTMP chunk stream.
// While a message is being received, Payload holds the bytes of the chunks seen so far and Length the size announced
// by the chunk header; the message is ready once both match.
type Message struct {
	Type      MessageType
	StreamID  uint32
	Timestamp uint32
	Length    uint32
	Payload   []byte

	// body is computed at most once, from the payload on the receive path or by NewMessage on the send path.
	body Body
}

// NewMessage encodes body once and wraps it in a message ready to be sent.
func NewMessage(body Body, streamID uint32, timestamp uint32) (*Message, error) {
	payload, err := body.MarshalRTMPMessage()
	if err != nil {
		return nil, errors.Wrapf(err, "encode %v", body.Type())
	}
	return &Message{
		Type:      body.Type(),
		StreamID:  streamID,
		Timestamp: timestamp,
		Length:    uint32(len(payload)),
		Payload:   payload,
		body:      body,
	}, nil
}

// Ready reports whether the complete payload has been received.
func (m *Message) Ready() bool {
	return uint32(len(m.Payload)) == m.Length
}

// Body decodes the payload the first time it's called, later calls return the same value.
func (m *Message) Body() (Body, error) {
	if m.body != nil {
		return m.body, nil
	}
	if !m.Ready() {
		return nil, ErrMessageNotReady
	}
	body, err := newBody(m.Type)
	if err != nil {
		return nil, err
	}
	if err := body.UnmarshalRTMPMessage(m.Payload); err != nil {
		return nil, errors.Wrapf(err, "decode %v", m.Type)
	}
	m.body = body
	return body, nil
}

// newBody returns an empty body for a message type.
func newBody(t MessageType) (Body, error) {
	switch t {
	case MessageTypeSetChunkSize:
		return &SetChunkSize{}, nil
	case MessageTypeAbort:
		return &Abort{}, nil
	case MessageTypeAck:
		return &Acknowledgement{}, nil
	case MessageTypeUserControl:
		return &UserControl{}, nil
	case MessageTypeWindowAckSize:
		return &WindowAckSize{}, nil
	case MessageTypeSetPeerBandwidth:
		return &SetPeerBandwidth{}, nil
	case MessageTypeAudio:
		return &Audio{}, nil
	case MessageTypeVideo:
		return &Video{}, nil
	case MessageTypeDataAMF0:
		return &Data{}, nil
	case MessageTypeDataAMF3:
		return &Data{AMF3: true}, nil
	case MessageTypeCommandAMF0:
		return &Command{}, nil
	case MessageTypeCommandAMF3:
		return &Command{AMF3: true}, nil
	case MessageTypeAggregate:
		return &Aggregate{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownMessageType, "type id %d", uint8(t))
	}
}
