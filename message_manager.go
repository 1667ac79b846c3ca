package rtmp

// execute applies the side effect of a complete inbound message.
func (s *Session) execute(m *Message, chunkType ChunkType) {
	body, err := m.Body()
	if err != nil {
		s.logger.Warnf("dropping %v message: %v", m.Type, err)
		return
	}
	switch b := body.(type) {
	case *SetChunkSize:
		if b.Size == 0 {
			s.logger.Warnf("ignoring Set Chunk Size of 0")
			return
		}
		s.inStream.SetChunkSize(b.Size)
	case *Abort:
		s.logger.Debugf("abort chunk stream %d", b.ChunkStreamID)
	case *Acknowledgement:
		if st := s.stream(); st != nil {
			st.info.onAck(b.SequenceNumber)
		}
	case *WindowAckSize:
		s.serverWindowSize = b.Size
		chunk, err := generateWindowAckSizeMessage(s.cfg.WindowSize)
		if err == nil {
			s.writeChunk(chunk)
		}
	case *SetPeerBandwidth:
		s.onPeerBandwidth(b)
	case *UserControl:
		s.onUserControl(m, b)
	case *Command:
		s.onCommand(m, b)
	case *Data:
		if st := s.stream(); st != nil {
			st.info.addBytes(len(m.Payload))
		}
	case *Audio, *Video:
		if st := s.stream(); st != nil {
			st.onMedia(m, chunkType)
		}
	case *Aggregate:
		s.logger.Debugf("ignoring aggregate message of %d bytes", len(b.Payload))
	}
}

// onPeerBandwidth applies a Set Peer Bandwidth: hard replaces the limit, soft keeps the smaller one and dynamic
// only counts as hard when the previous limit was hard.
func (s *Session) onPeerBandwidth(b *SetPeerBandwidth) {
	current := s.peerBandwidth.Load()
	switch b.Limit {
	case LimitHard:
		current = b.Size
	case LimitSoft:
		if current == 0 || b.Size < current {
			current = b.Size
		}
	case LimitDynamic:
		if s.peerLimit != LimitHard {
			s.logger.Debugf("ignoring dynamic peer bandwidth %d", b.Size)
			return
		}
		current = b.Size
	default:
		s.logger.Warnf("ignoring peer bandwidth %d with unknown limit type %d", b.Size, b.Limit)
		return
	}
	if b.Limit != LimitDynamic {
		s.peerLimit = b.Limit
	}
	s.peerBandwidth.Store(current)
	s.logger.Debugf("peer bandwidth %d, limit type %d", current, b.Limit)
}

func (s *Session) onUserControl(m *Message, uc *UserControl) {
	switch uc.Event {
	case UserControlPingRequest:
		chunk, err := generatePingResponseMessage(uc.Value)
		if err == nil {
			s.writeChunk(chunk)
		}
	case UserControlPingResponse:
	default:
		s.logger.Debugf("user control %v %d", uc.Event, uc.Value)
		s.emit(Event{Type: EventUserControl, StreamID: m.StreamID, UserControl: uc})
	}
}

func (s *Session) onCommand(m *Message, cmd *Command) {
	if responder, ok := s.operations[cmd.TransactionID]; ok {
		delete(s.operations, cmd.TransactionID)
		switch cmd.Name {
		case commandResult:
			if responder.OnResult != nil {
				responder.OnResult(cmd.Arguments)
			}
		case commandError:
			if responder.OnError != nil {
				responder.OnError(cmd.Arguments)
			}
		}
		return
	}
	switch cmd.Name {
	case commandClose:
		s.disconnect()
	default:
		if len(cmd.Arguments) == 0 {
			return
		}
		if event, ok := statusEvent(cmd.Arguments[0], m.StreamID); ok {
			s.onStatus(event)
		}
	}
}
