package ingest

import (
	"bytes"
	"testing"
	"time"

	"github.com/torresjeff/rtmp-publisher/audio"
	"github.com/torresjeff/rtmp-publisher/video"
	"github.com/yapingcat/gomedia/mpeg2"
	"go.uber.org/zap/zaptest"
)

func annexB(nalus ...[]byte) []byte {
	var b []byte
	for _, nalu := range nalus {
		b = append(b, 0, 0, 0, 1)
		b = append(b, nalu...)
	}
	return b
}

// muxTS writes an H.264 and an AAC elementary stream into a transport stream.
func muxTS(t *testing.T, write func(mux *mpeg2.TSMuxer, videoPID, audioPID uint16)) []byte {
	t.Helper()
	var b bytes.Buffer
	mux := mpeg2.NewTSMuxer()
	mux.OnPacket = func(pkg []byte) {
		b.Write(pkg)
	}
	videoPID := mux.AddStream(mpeg2.TS_STREAM_H264)
	audioPID := mux.AddStream(mpeg2.TS_STREAM_AAC)
	write(mux, videoPID, audioPID)
	return b.Bytes()
}

func TestTSSource(t *testing.T) {
	ms := time.Millisecond
	ts := muxTS(t, func(mux *mpeg2.TSMuxer, videoPID, audioPID uint16) {
		// pts, dts in milliseconds
		mux.Write(videoPID, annexB(testSPS, testPPS, testIDR), 40, 0)
		mux.Write(audioPID, append(adtsFrame([]byte{0xa1, 0xa2}), adtsFrame([]byte{0xb1})...), 10, 10)
		mux.Write(videoPID, annexB(testP), 120, 40)
		mux.Write(videoPID, annexB(testP, testP), 80, 80)
	})

	src, err := NewTSSource(bytes.NewReader(ts), zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("expected no error but got %v", err)
	}
	defer src.Close()

	var videoFrames, audioFrames []Frame
	for _, f := range readAll(t, src) {
		if f.Kind.IsAudio() {
			audioFrames = append(audioFrames, f)
		} else {
			videoFrames = append(videoFrames, f)
		}
	}

	expectedVideo := []Frame{
		{Kind: VideoConfig, VideoCodec: video.H264, Data: testAVCC, PTS: 40 * ms},
		{Kind: Video, VideoCodec: video.H264, Data: lengthPrefixed(testIDR), PTS: 40 * ms, KeyFrame: true},
		{Kind: Video, VideoCodec: video.H264, Data: lengthPrefixed(testP), PTS: 120 * ms, DTS: 40 * ms},
		{Kind: Video, VideoCodec: video.H264, Data: lengthPrefixed(testP, testP), PTS: 80 * ms, DTS: 80 * ms},
	}
	if len(videoFrames) != len(expectedVideo) {
		t.Fatalf("expected %d video frames but got %d: %+v", len(expectedVideo), len(videoFrames), videoFrames)
	}
	for i, expected := range expectedVideo {
		f := videoFrames[i]
		if f.Kind != expected.Kind || f.VideoCodec != expected.VideoCodec || f.KeyFrame != expected.KeyFrame {
			t.Errorf("expected video frame %d to be %v (key %v) but got %v (key %v)", i, expected.Kind,
				expected.KeyFrame, f.Kind, f.KeyFrame)
		}
		if f.PTS != expected.PTS || f.DTS != expected.DTS {
			t.Errorf("expected video frame %d at pts %v, dts %v but got %v, %v", i, expected.PTS, expected.DTS,
				f.PTS, f.DTS)
		}
		if !bytes.Equal(f.Data, expected.Data) {
			t.Errorf("expected video frame %d data %x but got %x", i, expected.Data, f.Data)
		}
	}

	second := 10*ms + 1024*time.Second/44100
	expectedAudio := []Frame{
		{Kind: AudioConfig, AudioFormat: audio.AAC, Data: testASC, PTS: 10 * ms, DTS: 10 * ms},
		{Kind: Audio, AudioFormat: audio.AAC, Data: []byte{0xa1, 0xa2}, PTS: 10 * ms, DTS: 10 * ms},
		{Kind: Audio, AudioFormat: audio.AAC, Data: []byte{0xb1}, PTS: second, DTS: second},
	}
	if len(audioFrames) != len(expectedAudio) {
		t.Fatalf("expected %d audio frames but got %d: %+v", len(expectedAudio), len(audioFrames), audioFrames)
	}
	for i, expected := range expectedAudio {
		f := audioFrames[i]
		if f.Kind != expected.Kind || f.PTS != expected.PTS || !bytes.Equal(f.Data, expected.Data) {
			t.Errorf("expected audio frame %d to be %+v but got %+v", i, expected, f)
		}
	}
}

func TestTSSource_NoParameterSets(t *testing.T) {
	ts := muxTS(t, func(mux *mpeg2.TSMuxer, videoPID, audioPID uint16) {
		mux.Write(videoPID, annexB(testP), 0, 0)
		mux.Write(videoPID, annexB(testSPS, testPPS, testIDR), 40, 40)
	})
	src, err := NewTSSource(bytes.NewReader(ts), zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("expected no error but got %v", err)
	}
	frames := readAll(t, src)
	if len(frames) != 2 {
		t.Fatalf("expected the config and the key frame but got %d frames: %+v", len(frames), frames)
	}
	if frames[0].Kind != VideoConfig || !frames[1].KeyFrame {
		t.Errorf("expected a config then a key frame but got %v then %v", frames[0].Kind, frames[1].Kind)
	}
}

func TestTSSource_Empty(t *testing.T) {
	src, err := NewTSSource(bytes.NewReader(nil), nil)
	if err != nil {
		t.Fatalf("expected no error but got %v", err)
	}
	if _, err := src.Next(); err == nil {
		t.Errorf("expected an error for an empty stream but got none")
	}
}

func TestTSSource_Close(t *testing.T) {
	ts := muxTS(t, func(mux *mpeg2.TSMuxer, videoPID, audioPID uint16) {
		for i := uint64(0); i < 50; i++ {
			mux.Write(videoPID, annexB(testSPS, testPPS, testIDR), i*40, i*40)
		}
	})
	src, err := NewTSSource(bytes.NewReader(ts), nil)
	if err != nil {
		t.Fatalf("expected no error but got %v", err)
	}
	if _, err := src.Next(); err != nil {
		t.Fatalf("expected a frame but got %v", err)
	}
	src.Close()

	// the demuxer goroutine stops and the channel drains
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := src.Next(); err != nil {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Next to stop after Close")
	}
}
