package main

import (
	"context"
	"io"
	"time"

	"github.com/ossrs/go-oryx-lib/flv"
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/audio"
	"github.com/torresjeff/rtmp-publisher/internal/ingest"
	"github.com/torresjeff/rtmp-publisher/video"
	"go.uber.org/zap"
)

// loopGap separates the last frame of a pass from the first frame of the next one.
const loopGap = 40 * time.Millisecond

// mediaWriter is the part of rtmp.Stream the publisher feeds.
type mediaWriter interface {
	WriteAudioConfig(tag []byte) error
	WriteVideoConfig(tag []byte) error
	WriteAudio(format audio.Format, frame []byte, pts time.Duration) error
	WriteVideo(codec video.Codec, keyFrame bool, nalus []byte, pts, dts time.Duration) error
}

// publisher copies frames from a source to a stream, optionally at the pace of their timestamps.
type publisher struct {
	logger   *zap.SugaredLogger
	out      mediaWriter
	realtime bool
	dump     flv.Muxer

	// offset is added to every timestamp so that passes over a looped input keep increasing.
	offset  time.Duration
	last    time.Duration
	started bool
	first   time.Duration
	start   time.Time
	frames  int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newPublisher(out mediaWriter, logger *zap.SugaredLogger, realtime bool, dump io.Writer) (*publisher, error) {
	p := &publisher{
		logger:   logger,
		out:      out,
		realtime: realtime,
		now:      time.Now,
		sleep:    sleep,
	}
	if dump != nil {
		muxer, err := flv.NewMuxer(dump)
		if err != nil {
			return nil, errors.Wrap(err, "flv muxer")
		}
		if err := muxer.WriteHeader(true, true); err != nil {
			return nil, errors.Wrap(err, "flv header")
		}
		p.dump = muxer
	}
	return p, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// publish sends every frame of src. It returns nil at the end of src.
func (p *publisher) publish(ctx context.Context, src ingest.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		f.PTS += p.offset
		f.DTS += p.offset
		if err := p.pace(ctx, f); err != nil {
			return err
		}
		if err := p.write(f); err != nil {
			return err
		}
	}
}

// rewind makes the next pass continue after the last frame sent.
func (p *publisher) rewind() {
	p.offset = p.last + loopGap
}

func (p *publisher) pace(ctx context.Context, f ingest.Frame) error {
	if f.Kind.IsConfig() {
		return nil
	}
	if f.DTS > p.last {
		p.last = f.DTS
	}
	if !p.started {
		p.started = true
		p.first = f.DTS
		p.start = p.now()
		return nil
	}
	if !p.realtime {
		return nil
	}
	due := p.start.Add(f.DTS - p.first)
	return p.sleep(ctx, due.Sub(p.now()))
}

func (p *publisher) write(f ingest.Frame) error {
	var err error
	switch f.Kind {
	case ingest.AudioConfig:
		var tag []byte
		if tag, err = f.Tag(); err == nil {
			err = p.out.WriteAudioConfig(tag)
		}
	case ingest.VideoConfig:
		var tag []byte
		if tag, err = f.Tag(); err == nil {
			err = p.out.WriteVideoConfig(tag)
		}
	case ingest.Audio:
		err = p.out.WriteAudio(f.AudioFormat, f.Data, f.PTS)
	case ingest.Video:
		err = p.out.WriteVideo(f.VideoCodec, f.KeyFrame, f.Data, f.PTS, f.DTS)
	}
	if err != nil {
		return errors.Wrapf(err, "write %v", f.Kind)
	}
	p.frames++
	if p.frames%1000 == 0 {
		p.logger.Debugf("sent %d frames, at %v", p.frames, p.last)
	}
	return p.writeDump(f)
}

func (p *publisher) writeDump(f ingest.Frame) error {
	if p.dump == nil {
		return nil
	}
	tag, err := f.Tag()
	if err != nil {
		return err
	}
	tagType := flv.TagTypeVideo
	if f.Kind.IsAudio() {
		tagType = flv.TagTypeAudio
	}
	var timestamp uint32
	if !f.Kind.IsConfig() {
		timestamp = uint32(f.DTS / time.Millisecond)
	}
	return errors.Wrap(p.dump.WriteTag(tagType, timestamp, tag), "dump")
}
