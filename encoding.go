package rtmp

type RTMPMessage interface {
	RTMPMessageMarshaler
	RTMPMessageUnmarshaler
}

type RTMPMessageMarshaler interface {
	MarshalRTMPMessage() (message []byte, err error)
}

type RTMPMessageUnmarshaler interface {
	UnmarshalRTMPMessage(message []byte) error
}

// Body is the decoded payload of a message. Each message kind has its own implementation, so a type switch over
// Body covers every message the session can send or receive.
type Body interface {
	RTMPMessage
	Type() MessageType
}
