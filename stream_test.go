package rtmp

import (
	"testing"
	"time"

	"github.com/torresjeff/rtmp-publisher/audio"
	"github.com/torresjeff/rtmp-publisher/config"
	"github.com/torresjeff/rtmp-publisher/internal/binary24"
	"github.com/torresjeff/rtmp-publisher/video"
	"go.uber.org/zap/zaptest"
)

// newPublishingStream returns a stream in the publishing state on a session that isn't running. Tests call the
// unexported methods directly, standing in for the session goroutine.
func newPublishingStream(t *testing.T) (*Stream, *fakeServer) {
	transport := newFakeTransport()
	s := NewSession(config.Default(), zaptest.NewLogger(t).Sugar(), WithTransport(transport))
	s.transportOpen = true
	s.connected = true
	st := newStream(s)
	s.streams = []*Stream{st}
	st.id = 1
	st.setState(StreamPublish)
	st.setState(StreamPublishing)

	fs := newFakeServer(t, transport)
	if body, _ := fs.nextBody(); body.Type() != MessageTypeDataAMF0 {
		t.Fatalf("expected metadata when publishing starts but got %v", body.Type())
	}
	return st, fs
}

func TestStream_VideoTimestamps(t *testing.T) {
	st, fs := newPublishingStream(t)
	ms := time.Millisecond

	// 10.5ms apart: the fraction is carried to the next frame
	frames := []time.Duration{1000 * ms, 1010*ms + 500*time.Microsecond, 1021 * ms, 1031*ms + 500*time.Microsecond}
	timestamps := []uint32{0, 10, 21, 31}
	for i, pts := range frames {
		st.writeVideo(video.H264, i == 0, []byte{0, 0, 0, 1, 0x65}, pts, NoTimestamp)
		m, chunkType := fs.nextMessage()
		if m.Timestamp != timestamps[i] {
			t.Errorf("frame %d: expected timestamp %d but got %d", i, timestamps[i], m.Timestamp)
		}
		expectedType := ChunkType1
		if i == 0 {
			expectedType = ChunkType0
		}
		if chunkType != expectedType {
			t.Errorf("frame %d: expected chunk type %d but got %d", i, expectedType, chunkType)
		}
		if m.Type != MessageTypeVideo || m.StreamID != 1 {
			t.Errorf("frame %d: expected video on stream 1 but got %v on %d", i, m.Type, m.StreamID)
		}
	}

	// Going back in time is dropped
	st.writeVideo(video.H264, false, []byte{0, 0, 0, 1, 0x41}, 1020*ms, NoTimestamp)
	if len(fs.transport.sent) != 0 {
		t.Errorf("expected a frame before the previous one to be dropped")
	}

	st.writeVideo(video.H264, false, []byte{0, 0, 0, 1, 0x41}, 1042*ms, NoTimestamp)
	m, _ := fs.nextMessage()
	if m.Timestamp != 42 {
		t.Errorf("expected timestamp 42 but got %d", m.Timestamp)
	}
	if m.Payload[0] != byte(video.InterFrame)<<4|byte(video.H264) {
		t.Errorf("expected an inter frame tag but got %x", m.Payload[0])
	}
}

func TestStream_CompositionTime(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		name  string
		codec video.Codec
		pts   time.Duration
		dts   time.Duration
		cts   uint32
	}{
		{"noDTS", video.H264, 100 * ms, NoTimestamp, 0},
		{"bFrame", video.H264, 166 * ms, 100 * ms, 66},
		{"negative", video.H264, 90 * ms, 100 * ms, 0},
		{"hevc", video.HEVC, 140 * ms, 100 * ms, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, fs := newPublishingStream(t)
			st.writeVideo(tt.codec, true, []byte{0, 0, 0, 1, 0x65}, tt.pts, tt.dts)
			m, _ := fs.nextMessage()
			offset := 2
			if tt.codec == video.HEVC {
				offset = 5
			}
			if cts := binary24.BigEndian.Uint24(m.Payload[offset : offset+3]); cts != tt.cts {
				t.Errorf("expected composition time %d but got %d", tt.cts, cts)
			}
			if m.Timestamp != 0 {
				t.Errorf("expected the first frame at 0 but got %d", m.Timestamp)
			}
		})
	}
}

func TestStream_AudioSharesBase(t *testing.T) {
	st, fs := newPublishingStream(t)
	ms := time.Millisecond

	st.writeVideo(video.H264, true, []byte{0, 0, 0, 1, 0x65}, 5000*ms, NoTimestamp)
	fs.nextMessage()
	st.writeAudio(audio.AAC, []byte{0x21, 0x00}, 5023*ms)
	m, chunkType := fs.nextMessage()
	if chunkType != ChunkType0 || m.Timestamp != 0 {
		t.Errorf("expected the first audio message to use a full header with timestamp 0 but got type %d at %d", chunkType, m.Timestamp)
	}
	if m.Payload[0] != audio.AACHeader || m.Payload[1] != byte(audio.AACRaw) {
		t.Errorf("expected a raw AAC tag but got %x", m.Payload[:2])
	}
	st.writeAudio(audio.AAC, []byte{0x21, 0x00}, 5046*ms)
	if m, _ := fs.nextMessage(); m.Timestamp != 23 {
		t.Errorf("expected timestamp 23 but got %d", m.Timestamp)
	}

	st.writeAudio(audio.AAC, []byte{0x21, 0x00}, 4000*ms)
	if len(fs.transport.sent) != 0 {
		t.Errorf("expected audio from before the first sample to be dropped")
	}
}

func TestStream_NotPublishing(t *testing.T) {
	st, fs := newPublishingStream(t)
	st.reset()
	st.sendAudio([]byte{0xAF, 1}, 0)
	st.writeVideo(video.H264, true, []byte{0, 0, 0, 1, 0x65}, 0, NoTimestamp)
	st.send("onCuePoint")
	if len(fs.transport.sent) != 0 {
		t.Errorf("expected nothing to be sent by a stream that isn't publishing")
	}
}

func TestStream_LeavePublishing(t *testing.T) {
	st, fs := newPublishingStream(t)
	stopped := false
	st.OnPublishStop = func() { stopped = true }
	st.name = "abc"

	st.publish("")
	for _, name := range []string{commandFCUnpublish, commandDeleteStream, commandCloseStream} {
		cmd, m := fs.nextCommand()
		if cmd.Name != name {
			t.Fatalf("expected %v but got %v", name, cmd.Name)
		}
		if name == commandDeleteStream && (m.StreamID != 1 || cmd.TransactionID != 0) {
			t.Errorf("expected deleteStream on stream 1 without a transaction but got stream %d transaction %d", m.StreamID, cmd.TransactionID)
		}
		if name == commandCloseStream && m.StreamID != 0 {
			t.Errorf("expected closeStream on stream 0 but got %d", m.StreamID)
		}
	}
	if !stopped {
		t.Errorf("expected OnPublishStop to be called")
	}
	if st.state != StreamInitialized {
		t.Errorf("expected state %v but got %v", StreamInitialized, st.state)
	}
}

type recordingSink struct {
	audio []AudioSample
	video []VideoSample
}

func (r *recordingSink) OnAudio(sample AudioSample) { r.audio = append(r.audio, sample) }
func (r *recordingSink) OnVideo(sample VideoSample) { r.video = append(r.video, sample) }

func TestStream_InboundMedia(t *testing.T) {
	transport := newFakeTransport()
	s := NewSession(config.Default(), zaptest.NewLogger(t).Sugar(), WithTransport(transport))
	st := newStream(s)
	sink := &recordingSink{}
	st.Sink = sink

	frame := video.AVCFrameTag(video.KeyFrame, 40, []byte{0, 0, 0, 1, 0x65})
	st.onMedia(&Message{Type: MessageTypeVideo, Timestamp: 5000, Payload: frame}, ChunkType0)
	st.onMedia(&Message{Type: MessageTypeVideo, Timestamp: 5033, Payload: frame}, ChunkType0)
	st.onMedia(&Message{Type: MessageTypeVideo, Timestamp: 5066, Payload: frame}, ChunkType1)
	st.onMedia(&Message{Type: MessageTypeVideo, Timestamp: 5100, Payload: []byte{0x17}}, ChunkType1)
	st.onMedia(&Message{Type: MessageTypeAudio, Timestamp: 7000, Payload: audio.AACRawTag([]byte{1})}, ChunkType0)

	expected := []time.Duration{0, 33 * time.Millisecond, 66 * time.Millisecond}
	if len(sink.video) != len(expected) {
		t.Fatalf("expected %d video samples but got %d", len(expected), len(sink.video))
	}
	for i, dts := range expected {
		if sink.video[i].DTS != dts || sink.video[i].PTS != dts+40*time.Millisecond {
			t.Errorf("sample %d: expected dts %v pts %v but got %v %v", i, dts, dts+40*time.Millisecond, sink.video[i].DTS, sink.video[i].PTS)
		}
	}
	if len(sink.audio) != 1 || sink.audio[0].Timestamp != 0 || sink.audio[0].Format != audio.AAC {
		t.Errorf("expected one AAC sample at 0 but got %+v", sink.audio)
	}
	if got := st.Info().Stats().ByteCount; got == 0 {
		t.Errorf("expected inbound bytes to be counted")
	}
}

func TestMediaClock(t *testing.T) {
	var c mediaClock
	c.reset()
	steps := []struct {
		timestamp uint32
		chunkType ChunkType
		out       time.Duration
	}{
		{1000, ChunkType0, 0},
		{1020, ChunkType1, 20 * time.Millisecond},
		{1100, ChunkType0, 100 * time.Millisecond},
	}
	for i, step := range steps {
		if got := c.advance(step.timestamp, step.chunkType); got != step.out {
			t.Errorf("step %d: expected %v but got %v", i, step.out, got)
		}
	}
}
