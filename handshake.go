package rtmp

import (
	"encoding/binary"
	"time"

	"github.com/torresjeff/rtmp-publisher/rand"
)

const handshakeSigSize = 1536

type HandshakeState uint8

const (
	HandshakeUninitialized HandshakeState = iota
	HandshakeVersionSent
	HandshakeAckSent
	HandshakeDone
	HandshakeClosing
	HandshakeClosed
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakeUninitialized:
		return "uninitialized"
	case HandshakeVersionSent:
		return "versionSent"
	case HandshakeAckSent:
		return "ackSent"
	case HandshakeDone:
		return "handshakeDone"
	case HandshakeClosing:
		return "closing"
	case HandshakeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handshake is the client side of the plain RTMP handshake. Bytes from the server are pushed with Received as they
// arrive; nothing blocks waiting for the rest of a packet.
type Handshake struct {
	state HandshakeState
	buf   []byte
	// serverVersion is the version announced in S0.
	serverVersion byte
	now           func() time.Time
	random        func([]byte) error
}

func NewHandshake() *Handshake {
	return &Handshake{
		now:    time.Now,
		random: rand.GenerateCryptoSafeRandomData,
	}
}

func (h *Handshake) State() HandshakeState {
	return h.state
}

// ServerVersion returns the version byte of S0, or 0 if it hasn't arrived yet.
func (h *Handshake) ServerVersion() byte {
	return h.serverVersion
}

// Start returns C0 and C1 and moves to versionSent.
// C1 is 4 bytes of time, 4 zero bytes and 1528 random bytes.
func (h *Handshake) Start() ([]byte, error) {
	c0c1 := make([]byte, 1+handshakeSigSize)
	c0c1[0] = RtmpVersion3
	binary.BigEndian.PutUint32(c0c1[1:5], uint32(h.now().Unix()))
	if err := h.random(c0c1[9:]); err != nil {
		return nil, err
	}
	h.state = HandshakeVersionSent
	return c0c1, nil
}

// Received consumes server bytes. Once S0 and S1 are complete it returns C2, an echo of S1, and moves to ackSent;
// once S2 is complete it moves to handshakeDone. consumed is the number of bytes of b that belonged to the
// handshake, anything after them is chunk stream data.
func (h *Handshake) Received(b []byte) (reply []byte, consumed int) {
	if h.state != HandshakeVersionSent && h.state != HandshakeAckSent {
		return nil, 0
	}
	h.buf = append(h.buf, b...)
	for {
		switch h.state {
		case HandshakeVersionSent:
			if len(h.buf) < 1+handshakeSigSize {
				return reply, len(b)
			}
			h.serverVersion = h.buf[0]
			reply = append(reply, h.buf[1:1+handshakeSigSize]...)
			h.buf = h.buf[1+handshakeSigSize:]
			h.state = HandshakeAckSent
		case HandshakeAckSent:
			if len(h.buf) < handshakeSigSize {
				return reply, len(b)
			}
			leftover := len(h.buf) - handshakeSigSize
			h.buf = nil
			h.state = HandshakeDone
			return reply, len(b) - leftover
		}
	}
}

// Closing marks the connection as being torn down.
func (h *Handshake) Closing() {
	h.state = HandshakeClosing
}

// Close moves the handshake to closed.
func (h *Handshake) Close() {
	h.state = HandshakeClosed
	h.buf = nil
}
