package rtmp

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	// maxWriteQueue bounds the number of written sequences waiting for an acknowledgement.
	maxWriteQueue = 500
	// bytesPerPacket converts bytes in flight to an approximate packet count.
	bytesPerPacket = 1400
)

type writtenSequence struct {
	at       time.Time
	sequence int64
}

// StreamStats is a point in time copy of the counters of a StreamInfo.
type StreamStats struct {
	ByteCount       int64
	BytesPerSecond  float64
	RTT             time.Duration
	PacketsInFlight int64
}

// StreamInfo estimates the throughput, round trip time and bytes in flight of a stream from the bytes written to
// the transport and the Acknowledgement messages of the server.
//
// The exported counters are atomic and can be read from any goroutine with Stats. Everything else is owned by the
// session goroutine.
type StreamInfo struct {
	byteCount       atomic.Int64
	bytesPerSecond  atomic.Uint64
	rtt             atomic.Int64
	packetsInFlight atomic.Int64

	now               func() time.Time
	previousByteCount int64
	writeQueue        []writtenSequence
	latestWritten     int64
	// latestAckedLow is the last sequence number received, latestAckedHigh accumulates the rollovers of it.
	latestAckedLow  uint32
	latestAckedHigh int64
}

func NewStreamInfo() *StreamInfo {
	return &StreamInfo{now: time.Now}
}

// addBytes attributes n bytes to the stream.
func (s *StreamInfo) addBytes(n int) {
	s.byteCount.Add(int64(n))
}

// latestAcked returns the acknowledged sequence corrected for rollovers.
func (s *StreamInfo) latestAcked() int64 {
	return s.latestAckedHigh + int64(s.latestAckedLow)
}

// onWritten records that the transport has written a total of sequence bytes.
func (s *StreamInfo) onWritten(sequence int64) {
	s.writeQueue = append(s.writeQueue, writtenSequence{at: s.now(), sequence: sequence})
	if len(s.writeQueue) > maxWriteQueue {
		s.writeQueue = s.writeQueue[len(s.writeQueue)-maxWriteQueue:]
	}
	s.latestWritten = sequence
	inFlight := sequence - s.latestAcked()
	if inFlight < 0 {
		inFlight = 0
	}
	s.packetsInFlight.Store(inFlight / bytesPerPacket)
}

// onAck handles the sequence number of an Acknowledgement. Some servers roll the 32 bit counter over at the signed
// boundary, so a rollover adds math.MaxInt32 if the previous value was in the signed range and math.MaxUint32
// otherwise.
func (s *StreamInfo) onAck(sequence uint32) {
	if sequence < s.latestAckedLow {
		if s.latestAckedLow <= math.MaxInt32 {
			s.latestAckedHigh += math.MaxInt32
		} else {
			s.latestAckedHigh += math.MaxUint32
		}
	}
	s.latestAckedLow = sequence
	acked := s.latestAcked()

	var last *writtenSequence
	for len(s.writeQueue) > 0 && s.writeQueue[0].sequence <= acked {
		last = &s.writeQueue[0]
		s.writeQueue = s.writeQueue[1:]
	}
	if last != nil {
		s.rtt.Store(int64(s.now().Sub(last.at)))
	}
}

// onTimeout is called once per second to update the throughput average.
func (s *StreamInfo) onTimeout() {
	byteCount := s.byteCount.Load()
	delta := float64(byteCount - s.previousByteCount)
	s.previousByteCount = byteCount
	bps := math.Float64frombits(s.bytesPerSecond.Load())
	s.bytesPerSecond.Store(math.Float64bits(bps*0.7 + delta*0.3))
}

func (s *StreamInfo) clear() {
	s.byteCount.Store(0)
	s.bytesPerSecond.Store(0)
	s.rtt.Store(0)
	s.packetsInFlight.Store(0)
	s.previousByteCount = 0
	s.writeQueue = nil
	s.latestWritten = 0
	s.latestAckedLow = 0
	s.latestAckedHigh = 0
}

func (s *StreamInfo) Stats() StreamStats {
	return StreamStats{
		ByteCount:       s.byteCount.Load(),
		BytesPerSecond:  math.Float64frombits(s.bytesPerSecond.Load()),
		RTT:             time.Duration(s.rtt.Load()),
		PacketsInFlight: s.packetsInFlight.Load(),
	}
}
