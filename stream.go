package rtmp

import (
	"math"
	"strings"
	"time"

	"github.com/torresjeff/rtmp-publisher/amf/amf0"
	"github.com/torresjeff/rtmp-publisher/audio"
	"github.com/torresjeff/rtmp-publisher/video"
	"go.uber.org/zap"
)

type StreamState uint8

const (
	StreamInitialized StreamState = iota
	StreamOpen
	StreamPublish
	StreamPublishing
)

func (s StreamState) String() string {
	switch s {
	case StreamInitialized:
		return "initialized"
	case StreamOpen:
		return "open"
	case StreamPublish:
		return "publish"
	case StreamPublishing:
		return "publishing"
	default:
		return "unknown"
	}
}

// NoTimestamp marks a missing decode timestamp, the presentation timestamp is used instead.
const NoTimestamp time.Duration = -1

// AudioSample is an inbound audio frame or sequence header.
type AudioSample struct {
	Format           audio.Format
	SampleRate       audio.SampleRate
	SampleSize       audio.SampleSize
	Channel          audio.Channel
	IsSequenceHeader bool
	Data             []byte
	// Timestamp is relative to the first audio message of the stream.
	Timestamp time.Duration
}

// VideoSample is an inbound access unit or decoder configuration record.
type VideoSample struct {
	Codec            video.Codec
	FrameType        video.FrameType
	IsSequenceHeader bool
	Data             []byte
	// DTS is relative to the first video message of the stream, PTS adds the composition time to it.
	DTS time.Duration
	PTS time.Duration
}

// MediaSink receives the media a server sends on a stream. Methods are called from the session goroutine.
type MediaSink interface {
	OnAudio(sample AudioSample)
	OnVideo(sample VideoSample)
}

// mediaClock rebases inbound timestamps to the first message of one media kind.
type mediaClock struct {
	zero  int64
	last  uint32
	clock int64
}

func (c *mediaClock) reset() {
	*c = mediaClock{zero: -1}
}

// advance returns the rebased time of a message. Type 0 chunks carry an absolute timestamp, the others are
// accumulated as deltas from the previous message.
func (c *mediaClock) advance(timestamp uint32, chunkType ChunkType) time.Duration {
	if c.zero < 0 {
		c.zero = int64(timestamp)
		c.clock = 0
	} else if chunkType == ChunkType0 {
		c.clock = int64(timestamp) - c.zero
	} else {
		c.clock += int64(timestamp - c.last)
	}
	c.last = timestamp
	return time.Duration(c.clock) * time.Millisecond
}

// Stream is a NetStream publishing on a Session. Its methods are safe for concurrent use, they're executed on the
// session goroutine.
type Stream struct {
	session *Session
	logger  *zap.SugaredLogger
	info    *StreamInfo

	// OnPublishStart is called when the server accepted the publish, media can be sent from then on.
	OnPublishStart func()
	// OnPublishStop is called when publishing ends for any reason.
	OnPublishStop func()
	// Sink receives inbound media. It may be nil.
	Sink MediaSink

	id       uint32
	state    StreamState
	name     string
	creating bool
	// queue holds the commands waiting for the stream to be open.
	queue    []*Command
	metadata amf0.Object

	startedAt      time.Time
	audioChunkType ChunkType
	videoChunkType ChunkType
	dataTimestamps map[string]time.Time

	baseTimestamp       time.Duration
	prevRebasedAudio    time.Duration
	prevRebasedVideo    time.Duration
	hasPrevAudio        bool
	hasPrevVideo        bool
	audioTimestampDelta float64
	videoTimestampDelta float64

	audioClock mediaClock
	videoClock mediaClock
}

func newStream(s *Session) *Stream {
	st := &Stream{
		session:        s,
		logger:         s.logger,
		info:           NewStreamInfo(),
		dataTimestamps: make(map[string]time.Time),
		baseTimestamp:  -1,
	}
	st.audioClock.reset()
	st.videoClock.reset()
	return st
}

// Info returns the statistics of the stream. They can be read from any goroutine.
func (st *Stream) Info() *StreamInfo {
	return st.info
}

// Publish publishes under name, or stops publishing when name is empty. The publish command waits until the
// server created the stream.
func (st *Stream) Publish(name string) error {
	return st.session.post(func() {
		st.publish(name)
	})
}

// SetMetadata sets the object sent as onMetaData once publishing starts.
func (st *Stream) SetMetadata(metadata amf0.Object) error {
	return st.session.post(func() {
		st.metadata = metadata
	})
}

// SendMetadata sends a data message with handler and args while publishing.
func (st *Stream) SendMetadata(handler string, args ...amf0.Value) error {
	return st.session.post(func() {
		st.send(handler, args...)
	})
}

// SendAudio sends an FLV audio tag. timestamp goes into the chunk header as is: absolute for the first message
// after publishing starts and a delta for the following ones.
func (st *Stream) SendAudio(payload []byte, timestamp uint32) error {
	return st.session.post(func() {
		st.sendAudio(payload, timestamp)
	})
}

// SendVideo sends an FLV video tag, timestamps work like in SendAudio.
func (st *Stream) SendVideo(payload []byte, timestamp uint32) error {
	return st.session.post(func() {
		st.sendVideo(payload, timestamp)
	})
}

// WriteAudioConfig sends an audio sequence header tag with timestamp 0.
func (st *Stream) WriteAudioConfig(tag []byte) error {
	return st.session.post(func() {
		st.sendAudio(tag, 0)
	})
}

// WriteVideoConfig sends a video sequence header tag with timestamp 0.
func (st *Stream) WriteVideoConfig(tag []byte) error {
	return st.session.post(func() {
		st.sendVideo(tag, 0)
	})
}

// WriteAudio sends one AAC or Opus (audio.ExHeader) frame presented at pts.
func (st *Stream) WriteAudio(format audio.Format, frame []byte, pts time.Duration) error {
	return st.session.post(func() {
		st.writeAudio(format, frame, pts)
	})
}

// WriteVideo sends one H.264 or HEVC access unit made of length prefixed NAL units. dts may be NoTimestamp.
func (st *Stream) WriteVideo(codec video.Codec, keyFrame bool, nalus []byte, pts, dts time.Duration) error {
	return st.session.post(func() {
		st.writeVideo(codec, keyFrame, nalus, pts, dts)
	})
}

func (st *Stream) publish(name string) {
	if name == "" {
		if st.state == StreamPublish || st.state == StreamPublishing {
			st.close()
		}
		st.name = ""
		st.queue = nil
		return
	}
	if st.name == name && (st.state == StreamPublish || st.state == StreamPublishing) {
		return
	}
	if st.state == StreamPublish || st.state == StreamPublishing {
		st.close()
	}
	st.name = name
	cmd := generatePublishRequest(name)
	switch st.state {
	case StreamInitialized:
		st.queue = append(st.queue, cmd)
		if st.session.connected && !st.creating {
			st.createStream()
		}
	default:
		st.setState(StreamPublish)
		st.sendCommand(cmd)
	}
}

// createStream asks the server for a message stream. The stream opens with the result.
func (st *Stream) createStream() {
	if st.name != "" && st.isFMLE() {
		st.session.call(commandReleaseStream, nil, amf0.String(st.name))
		st.session.call(commandFCPublish, nil, amf0.String(st.name))
	}
	st.creating = true
	_, err := st.session.call(commandCreateStream, &Responder{
		OnResult: func(args []amf0.Value) {
			st.creating = false
			if len(args) == 0 {
				st.logger.Warnf("createStream: missing stream id")
				return
			}
			id, ok := args[0].(amf0.Number)
			if !ok || id < 0 || id > math.MaxUint32 {
				st.logger.Warnf("createStream: invalid stream id %v", args[0])
				return
			}
			st.id = uint32(id)
			st.setState(StreamOpen)
		},
		OnError: func(args []amf0.Value) {
			st.creating = false
			st.logger.Warnf("createStream failed: %v", args)
		},
	})
	if err != nil {
		st.creating = false
	}
}

func (st *Stream) isFMLE() bool {
	return strings.Contains(st.session.cfg.FlashVer, "FMLE/")
}

// sendCommand sends a command on the stream with the next transaction ID.
func (st *Stream) sendCommand(cmd *Command) {
	cmd.TransactionID = st.session.nextTransactionID()
	st.session.writeCommand(ChunkType0, cmd, st.id)
}

func (st *Stream) onStatus(event Event) {
	if event.StreamID != 0 && event.StreamID != st.id {
		return
	}
	switch event.Code {
	case CodeConnectSuccess:
		st.setState(StreamInitialized)
		if st.name != "" {
			st.queue = []*Command{generatePublishRequest(st.name)}
			st.createStream()
		}
	case CodePublishStart:
		if st.state != StreamInitialized {
			st.setState(StreamPublishing)
		}
	}
}

func (st *Stream) setState(state StreamState) {
	if st.state == state {
		return
	}
	old := st.state
	st.state = state
	st.logger.Infof("stream %d: state %v -> %v", st.id, old, state)
	if old == StreamPublishing {
		st.leavePublishing()
	}
	switch state {
	case StreamOpen:
		st.onOpen()
	case StreamPublish:
		st.onPublish()
	case StreamPublishing:
		st.onPublishing()
	}
}

// onOpen replays the queued commands in order, with transaction IDs allocated now.
func (st *Stream) onOpen() {
	st.info.clear()
	queue := st.queue
	st.queue = nil
	for _, cmd := range queue {
		if cmd.Name == commandPublish {
			st.setState(StreamPublish)
		}
		st.sendCommand(cmd)
	}
}

func (st *Stream) onPublish() {
	st.startedAt = st.session.now()
	st.audioChunkType = ChunkType0
	st.videoChunkType = ChunkType0
	st.dataTimestamps = make(map[string]time.Time)
	st.baseTimestamp = -1
	st.hasPrevAudio = false
	st.hasPrevVideo = false
	st.audioTimestampDelta = 0
	st.videoTimestampDelta = 0
}

func (st *Stream) onPublishing() {
	metadata := st.metadata
	if metadata == nil {
		metadata = amf0.Object{}
	}
	data := generateMetadataMessage(metadata)
	st.send(data.Handler, data.Arguments...)
	if st.OnPublishStart != nil {
		st.OnPublishStart()
	}
}

func (st *Stream) leavePublishing() {
	if st.name != "" && st.isFMLE() {
		st.session.call(commandFCUnpublish, nil, amf0.String(st.name))
	}
	if m, err := generateDeleteStreamMessage(st.id); err == nil {
		st.session.writeChunk(newChunk(ChunkType0, CommandChannel, m))
	}
	if c, err := generateCloseStreamMessage(st.id); err == nil {
		st.session.writeChunk(c)
	}
	if st.OnPublishStop != nil {
		st.OnPublishStop()
	}
}

// close returns the stream to initialized. The server side stream is deleted.
func (st *Stream) close() {
	if st.state == StreamInitialized {
		return
	}
	wasPublishing := st.state == StreamPublishing
	st.setState(StreamInitialized)
	if !wasPublishing {
		if c, err := generateCloseStreamMessage(st.id); err == nil {
			st.session.writeChunk(c)
		}
	}
}

// reset returns the stream to initialized after the connection is gone, nothing is sent.
func (st *Stream) reset() {
	wasPublishing := st.state == StreamPublishing
	st.state = StreamInitialized
	st.creating = false
	st.audioClock.reset()
	st.videoClock.reset()
	if wasPublishing && st.OnPublishStop != nil {
		st.OnPublishStop()
	}
}

// send writes a data message. The first one of a handler uses a full header, later ones only carry the time since
// the previous one.
func (st *Stream) send(handler string, args ...amf0.Value) {
	if st.state != StreamPublishing {
		return
	}
	now := st.session.now()
	chunkType := ChunkType0
	since := st.startedAt
	if last, ok := st.dataTimestamps[handler]; ok {
		chunkType = ChunkType1
		since = last
	}
	m, err := NewMessage(&Data{Handler: handler, Arguments: args}, st.id, uint32(now.Sub(since).Milliseconds()))
	if err != nil {
		st.logger.Warnf("data %v: %v", handler, err)
		return
	}
	n, _ := st.session.writeChunk(newChunk(chunkType, DataChannel, m))
	st.dataTimestamps[handler] = now
	st.info.addBytes(n)
}

func (st *Stream) sendAudio(payload []byte, timestamp uint32) {
	if st.state != StreamPublishing {
		return
	}
	m, err := NewMessage(&Audio{Payload: payload}, st.id, timestamp)
	if err != nil {
		return
	}
	n, _ := st.session.writeChunk(newChunk(st.audioChunkType, AudioChannel, m))
	st.audioChunkType = ChunkType1
	st.info.addBytes(n)
}

func (st *Stream) sendVideo(payload []byte, timestamp uint32) {
	if st.state != StreamPublishing {
		return
	}
	m, err := NewMessage(&Video{Payload: payload}, st.id, timestamp)
	if err != nil {
		return
	}
	n, _ := st.session.writeChunk(newChunk(st.videoChunkType, VideoChannel, m))
	st.videoChunkType = ChunkType1
	st.info.addBytes(n)
}

// rebase returns t relative to the first sample of the stream. Samples from before it can't be sent.
func (st *Stream) rebase(t time.Duration) (time.Duration, bool) {
	if st.baseTimestamp < 0 {
		st.baseTimestamp = t
	}
	rebased := t - st.baseTimestamp
	return rebased, rebased >= 0
}

func (st *Stream) writeAudio(format audio.Format, frame []byte, pts time.Duration) {
	if st.state != StreamPublishing {
		return
	}
	rebased, ok := st.rebase(pts)
	if !ok {
		st.logger.Infof("dropping audio frame, failed to rebase %v", pts)
		return
	}
	var delta float64
	if st.hasPrevAudio {
		delta = float64(rebased-st.prevRebasedAudio) / float64(time.Millisecond)
	}
	if delta < 0 {
		st.logger.Infof("dropping audio frame (delta: %v)", delta)
		return
	}
	var tag []byte
	switch format {
	case audio.ExHeader:
		tag = audio.OpusFrameTag(frame)
	default:
		tag = audio.AACRawTag(frame)
	}
	st.prevRebasedAudio = rebased
	st.hasPrevAudio = true
	st.audioTimestampDelta += delta
	whole := math.Floor(st.audioTimestampDelta)
	st.sendAudio(tag, uint32(whole))
	st.audioTimestampDelta -= whole
}

func (st *Stream) writeVideo(codec video.Codec, keyFrame bool, nalus []byte, pts, dts time.Duration) {
	if st.state != StreamPublishing {
		return
	}
	if dts == NoTimestamp {
		dts = pts
	}
	rebased, ok := st.rebase(dts)
	if !ok {
		st.logger.Infof("dropping video frame, failed to rebase %v", dts)
		return
	}
	var delta float64
	if st.hasPrevVideo {
		delta = float64(rebased-st.prevRebasedVideo) / float64(time.Millisecond)
	}
	if delta < 0 {
		st.logger.Infof("dropping video frame (delta: %v)", delta)
		return
	}
	frameType := video.InterFrame
	if keyFrame {
		frameType = video.KeyFrame
	}
	compositionTime := int32((pts - dts) / time.Millisecond)
	if compositionTime < 0 {
		compositionTime = 0
	}
	var tag []byte
	switch codec {
	case video.HEVC:
		tag = video.HEVCFrameTag(frameType, compositionTime, nalus)
	default:
		tag = video.AVCFrameTag(frameType, compositionTime, nalus)
	}
	st.prevRebasedVideo = rebased
	st.hasPrevVideo = true
	st.videoTimestampDelta += delta
	whole := math.Floor(st.videoTimestampDelta)
	st.sendVideo(tag, uint32(whole))
	st.videoTimestampDelta -= whole
}

// onMedia handles an inbound audio or video message. Samples with a malformed tag header are dropped.
func (st *Stream) onMedia(m *Message, chunkType ChunkType) {
	st.info.addBytes(len(m.Payload))
	switch m.Type {
	case MessageTypeAudio:
		timestamp := st.audioClock.advance(m.Timestamp, chunkType)
		tag, err := audio.ParseTag(m.Payload)
		if err != nil {
			st.logger.Infof("dropping audio message: %v", err)
			return
		}
		if st.Sink != nil {
			st.Sink.OnAudio(AudioSample{
				Format:           tag.Format,
				SampleRate:       tag.SampleRate,
				SampleSize:       tag.SampleSize,
				Channel:          tag.Channel,
				IsSequenceHeader: tag.IsSequenceHeader,
				Data:             tag.Data,
				Timestamp:        timestamp,
			})
		}
	case MessageTypeVideo:
		dts := st.videoClock.advance(m.Timestamp, chunkType)
		tag, err := video.ParseTag(m.Payload)
		if err != nil {
			st.logger.Infof("dropping video message: %v", err)
			return
		}
		if st.Sink != nil {
			st.Sink.OnVideo(VideoSample{
				Codec:            tag.Codec,
				FrameType:        tag.FrameType,
				IsSequenceHeader: tag.IsSequenceHeader,
				Data:             tag.Data,
				DTS:              dts,
				PTS:              dts + time.Duration(tag.CompositionTime)*time.Millisecond,
			})
		}
	}
}
