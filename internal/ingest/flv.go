package ingest

import (
	"io"
	"time"

	"github.com/ossrs/go-oryx-lib/flv"
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/audio"
	"github.com/torresjeff/rtmp-publisher/video"
	"go.uber.org/zap"
)

// FLVSource reads the audio and video tags of an FLV file. Script data and tags of codecs that can't be published
// are skipped.
type FLVSource struct {
	logger   *zap.SugaredLogger
	demuxer  flv.Demuxer
	hasVideo bool
	hasAudio bool
}

func NewFLVSource(r io.Reader, logger *zap.SugaredLogger) (*FLVSource, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	demuxer, err := flv.NewDemuxer(r)
	if err != nil {
		return nil, errors.Wrap(err, "flv demuxer")
	}
	_, hasVideo, hasAudio, err := demuxer.ReadHeader()
	if err != nil {
		return nil, errors.Wrap(err, "flv header")
	}
	return &FLVSource{
		logger:   logger,
		demuxer:  demuxer,
		hasVideo: hasVideo,
		hasAudio: hasAudio,
	}, nil
}

// HasVideo and HasAudio report the flags of the FLV header.
func (s *FLVSource) HasVideo() bool {
	return s.hasVideo
}

func (s *FLVSource) HasAudio() bool {
	return s.hasAudio
}

func (s *FLVSource) Next() (Frame, error) {
	for {
		tagType, tagSize, timestamp, err := s.demuxer.ReadTagHeader()
		if err != nil {
			return Frame{}, eof(err)
		}
		tag, err := s.demuxer.ReadTag(tagSize)
		if err != nil {
			return Frame{}, eof(err)
		}

		dts := time.Duration(timestamp) * time.Millisecond
		switch tagType {
		case flv.TagTypeAudio:
			f, err := audioFrame(tag, dts)
			if err != nil {
				s.logger.Infof("ingest: skipping audio tag at %v: %v", dts, err)
				continue
			}
			return f, nil
		case flv.TagTypeVideo:
			f, err := videoFrame(tag, dts)
			if err != nil {
				s.logger.Infof("ingest: skipping video tag at %v: %v", dts, err)
				continue
			}
			return f, nil
		}
	}
}

func (s *FLVSource) Close() error {
	return s.demuxer.Close()
}

// eof maps the end of the file, also in the middle of a tag, to io.EOF.
func eof(err error) error {
	if errors.Cause(err) == io.EOF || errors.Cause(err) == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return errors.Wrap(err, "flv")
}

func audioFrame(b []byte, dts time.Duration) (Frame, error) {
	tag, err := audio.ParseTag(b)
	if err != nil {
		return Frame{}, err
	}
	if tag.Format != audio.AAC && tag.Format != audio.ExHeader {
		return Frame{}, errors.Wrapf(ErrUnsupportedCodec, "audio format %d", tag.Format)
	}
	kind := Audio
	if tag.IsSequenceHeader {
		kind = AudioConfig
		if tag.Format == audio.ExHeader {
			if _, _, err := parseOpusHead(tag.Data); err != nil {
				return Frame{}, err
			}
		}
	}
	return Frame{Kind: kind, AudioFormat: tag.Format, Data: tag.Data, PTS: dts, DTS: dts}, nil
}

func videoFrame(b []byte, dts time.Duration) (Frame, error) {
	tag, err := video.ParseTag(b)
	if err != nil {
		return Frame{}, err
	}
	if tag.IsSequenceHeader {
		return Frame{Kind: VideoConfig, VideoCodec: tag.Codec, Data: tag.Data, PTS: dts, DTS: dts}, nil
	}
	if len(tag.Data) == 0 {
		return Frame{}, errors.New("empty video tag")
	}
	return Frame{
		Kind:       Video,
		VideoCodec: tag.Codec,
		Data:       tag.Data,
		PTS:        dts + time.Duration(tag.CompositionTime)*time.Millisecond,
		DTS:        dts,
		KeyFrame:   tag.FrameType == video.KeyFrame,
	}, nil
}
