// Package ingest reads audio and video from media files and hands them out as frames ready to publish.
package ingest

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/audio"
	"github.com/torresjeff/rtmp-publisher/video"
)

type Kind uint8

const (
	// AudioConfig frames carry an AudioSpecificConfig for AAC or an OpusHead for Opus.
	AudioConfig Kind = iota
	Audio
	// VideoConfig frames carry an avcC or hvcC record.
	VideoConfig
	// Video frames carry one access unit of length prefixed NAL units.
	Video
)

func (k Kind) String() string {
	switch k {
	case AudioConfig:
		return "audio config"
	case Audio:
		return "audio"
	case VideoConfig:
		return "video config"
	case Video:
		return "video"
	}
	return "unknown"
}

func (k Kind) IsAudio() bool {
	return k == AudioConfig || k == Audio
}

func (k Kind) IsConfig() bool {
	return k == AudioConfig || k == VideoConfig
}

type Frame struct {
	Kind Kind
	// AudioFormat is audio.AAC or audio.ExHeader (Opus) for audio frames.
	AudioFormat audio.Format
	// VideoCodec is video.H264 or video.HEVC for video frames.
	VideoCodec video.Codec
	Data       []byte
	PTS        time.Duration
	DTS        time.Duration
	KeyFrame   bool
}

// Source produces frames in decoding order. Next returns io.EOF after the last frame.
type Source interface {
	Next() (Frame, error)
	Close() error
}

var ErrUnsupportedCodec = errors.New("ingest: unsupported codec")

// Tag returns the FLV tag body of f, as sent over RTMP.
func (f Frame) Tag() ([]byte, error) {
	switch f.Kind {
	case AudioConfig:
		if f.AudioFormat == audio.ExHeader {
			channels, rate, err := parseOpusHead(f.Data)
			if err != nil {
				return nil, err
			}
			return audio.OpusSequenceHeaderTag(channels, rate), nil
		}
		return audio.AACSequenceHeaderTag(f.Data), nil
	case Audio:
		if f.AudioFormat == audio.ExHeader {
			return audio.OpusFrameTag(f.Data), nil
		}
		return audio.AACRawTag(f.Data), nil
	case VideoConfig:
		if f.VideoCodec == video.HEVC {
			return video.HEVCSequenceHeaderTag(f.Data), nil
		}
		return video.AVCSequenceHeaderTag(f.Data), nil
	case Video:
		frameType := video.InterFrame
		if f.KeyFrame {
			frameType = video.KeyFrame
		}
		cts := int32((f.PTS - f.DTS) / time.Millisecond)
		if f.VideoCodec == video.HEVC {
			return video.HEVCFrameTag(frameType, cts, f.Data), nil
		}
		return video.AVCFrameTag(frameType, cts, f.Data), nil
	}
	return nil, errors.Errorf("ingest: unknown frame kind %d", f.Kind)
}

// parseOpusHead reads the channel count and input sample rate of an OpusHead packet.
func parseOpusHead(b []byte) (channels uint8, sampleRate uint32, err error) {
	if len(b) < 16 || string(b[:8]) != "OpusHead" {
		return 0, 0, errors.New("ingest: malformed OpusHead")
	}
	return b[9], binary.BigEndian.Uint32(b[12:16]), nil
}

// replaySource hands out buffered frames before reading from the wrapped source.
type replaySource struct {
	frames []Frame
	src    Source
}

func (r *replaySource) Next() (Frame, error) {
	if len(r.frames) > 0 {
		f := r.frames[0]
		r.frames = r.frames[1:]
		return f, nil
	}
	return r.src.Next()
}

func (r *replaySource) Close() error {
	return r.src.Close()
}
