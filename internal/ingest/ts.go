package ingest

import (
	"io"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/aac"
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/audio"
	"github.com/torresjeff/rtmp-publisher/video"
	"github.com/yapingcat/gomedia/mpeg2"
	"go.uber.org/zap"
)

// AAC frames always hold 1024 samples per channel.
const aacSamplesPerFrame = 1024

var errMalformedParameterSet = errors.New("ingest: malformed parameter set")
var errSourceClosed = errors.New("ingest: source closed")

// accessUnit gathers the NAL units sharing one timestamp.
type accessUnit struct {
	started  bool
	pts, dts uint64
	keyFrame bool
	data     []byte
}

// TSSource demuxes an MPEG-TS stream carrying H.264 or HEVC video and ADTS AAC audio. The demuxer runs on its own
// goroutine and hands frames over one at a time.
type TSSource struct {
	logger *zap.SugaredLogger

	frames    chan Frame
	done      chan struct{}
	closeOnce sync.Once
	// err is written before frames is closed.
	err error

	// Owned by the demuxer goroutine.
	au         accessUnit
	videoCodec video.Codec
	params     parameterSets
	adts       aac.ADTS
	asc        []byte
	delivered  int
}

func NewTSSource(r io.Reader, logger *zap.SugaredLogger) (*TSSource, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	adts, err := aac.NewADTS()
	if err != nil {
		return nil, errors.Wrap(err, "adts")
	}
	s := &TSSource{
		logger: logger,
		frames: make(chan Frame),
		done:   make(chan struct{}),
		adts:   adts,
	}
	go s.demux(r)
	return s, nil
}

func (s *TSSource) Next() (Frame, error) {
	f, ok := <-s.frames
	if !ok {
		if s.err != nil {
			return Frame{}, s.err
		}
		return Frame{}, io.EOF
	}
	return f, nil
}

// Close stops the demuxer. Frames already read stay valid.
func (s *TSSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *TSSource) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *TSSource) demux(r io.Reader) {
	defer close(s.frames)

	demuxer := mpeg2.NewTSDemuxer()
	demuxer.OnFrame = s.onFrame
	err := demuxer.Input(&stoppableReader{r: r, done: s.done})
	if s.closed() {
		return
	}
	if err != nil {
		// The demuxer reports a truncated last packet the same way as an unreadable stream.
		if s.delivered == 0 {
			s.err = errors.Wrap(err, "ts demux")
			return
		}
		s.logger.Warnf("ingest: ts demuxer stopped after %d frames: %v", s.delivered, err)
	}
	s.flushVideo()
}

func (s *TSSource) emit(f Frame) {
	select {
	case s.frames <- f:
		s.delivered++
	case <-s.done:
	}
}

func (s *TSSource) onFrame(cid mpeg2.TS_STREAM_TYPE, frame []byte, pts uint64, dts uint64) {
	switch cid {
	case mpeg2.TS_STREAM_H264:
		s.onNALU(video.H264, frame, pts, dts)
	case mpeg2.TS_STREAM_H265:
		s.onNALU(video.HEVC, frame, pts, dts)
	case mpeg2.TS_STREAM_AAC:
		s.onADTS(frame, pts)
	default:
		s.logger.Debugf("ingest: ignoring ts stream type %#x", int(cid))
	}
}

// onNALU receives one Annex-B NAL unit. The demuxer reuses frame, so everything kept is copied.
func (s *TSSource) onNALU(c video.Codec, frame []byte, pts uint64, dts uint64) {
	if s.videoCodec != c {
		s.videoCodec = c
		s.params = parameterSets{codec: c}
	}
	nalu := stripStartCode(frame)
	class, t := classify(c, nalu)
	if class == naluSkip {
		return
	}
	if s.au.started && (s.au.pts != pts || s.au.dts != dts) {
		s.flushVideo()
	}
	if !s.au.started {
		s.au = accessUnit{started: true, pts: pts, dts: dts}
	}
	switch class {
	case naluParameterSet:
		s.params.update(t, nalu)
	case naluKeySlice:
		s.au.keyFrame = true
		fallthrough
	default:
		s.au.data = appendLengthPrefixed(s.au.data, nalu)
	}
}

func (s *TSSource) flushVideo() {
	au := s.au
	s.au = accessUnit{}
	if !au.started {
		return
	}
	pts := time.Duration(au.pts) * time.Millisecond
	dts := time.Duration(au.dts) * time.Millisecond

	record, changed, err := s.params.changed()
	if err != nil {
		s.logger.Warnf("ingest: dropping %v parameter sets: %v", s.videoCodec, err)
	}
	if changed {
		s.emit(Frame{Kind: VideoConfig, VideoCodec: s.videoCodec, Data: record, PTS: pts, DTS: dts})
	}
	if len(au.data) == 0 {
		return
	}
	if s.params.record == nil {
		s.logger.Debugf("ingest: dropping video at %v, no parameter sets yet", dts)
		return
	}
	s.emit(Frame{
		Kind:       Video,
		VideoCodec: s.videoCodec,
		Data:       au.data,
		PTS:        pts,
		DTS:        dts,
		KeyFrame:   au.keyFrame,
	})
}

// onADTS splits a PES payload into raw AAC frames. The PES timestamp belongs to the first one.
func (s *TSSource) onADTS(payload []byte, pts uint64) {
	p := payload
	for i := 0; len(p) > 0; i++ {
		raw, left, err := s.adts.Decode(p)
		if err != nil {
			s.logger.Warnf("ingest: dropping %d bytes of adts at %dms: %v", len(p), pts, err)
			return
		}
		asc, err := s.adts.ASC().MarshalBinary()
		if err != nil {
			s.logger.Warnf("ingest: dropping adts frame at %dms: %v", pts, err)
			return
		}
		if string(asc) != string(s.asc) {
			s.asc = asc
			at := time.Duration(pts) * time.Millisecond
			s.emit(Frame{Kind: AudioConfig, AudioFormat: audio.AAC, Data: asc, PTS: at, DTS: at})
		}

		at := time.Duration(pts) * time.Millisecond
		if hz := s.adts.ASC().SampleRate.ToHz(); hz > 0 {
			at += time.Duration(i) * aacSamplesPerFrame * time.Second / time.Duration(hz)
		}
		s.emit(Frame{
			Kind:        Audio,
			AudioFormat: audio.AAC,
			Data:        append([]byte(nil), raw...),
			PTS:         at,
			DTS:         at,
		})
		p = left
	}
}

// stoppableReader fails reads once done is closed, which ends the demuxer's read loop.
type stoppableReader struct {
	r    io.Reader
	done <-chan struct{}
}

func (r *stoppableReader) Read(b []byte) (int, error) {
	select {
	case <-r.done:
		return 0, errSourceClosed
	default:
		return r.r.Read(b)
	}
}
