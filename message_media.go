package rtmp

// Audio carries one FLV audio tag (without the FLV tag header).
type Audio struct {
	Payload []byte
}

func (*Audio) Type() MessageType { return MessageTypeAudio }

func (m *Audio) MarshalRTMPMessage() ([]byte, error) { return m.Payload, nil }

func (m *Audio) UnmarshalRTMPMessage(payload []byte) error {
	m.Payload = payload
	return nil
}

// Video carries one FLV video tag (without the FLV tag header).
type Video struct {
	Payload []byte
}

func (*Video) Type() MessageType { return MessageTypeVideo }

func (m *Video) MarshalRTMPMessage() ([]byte, error) { return m.Payload, nil }

func (m *Video) UnmarshalRTMPMessage(payload []byte) error {
	m.Payload = payload
	return nil
}

// Aggregate is a sequence of FLV tags. It's kept opaque.
type Aggregate struct {
	Payload []byte
}

func (*Aggregate) Type() MessageType { return MessageTypeAggregate }

func (m *Aggregate) MarshalRTMPMessage() ([]byte, error) { return m.Payload, nil }

func (m *Aggregate) UnmarshalRTMPMessage(payload []byte) error {
	m.Payload = payload
	return nil
}
