package ingest

import (
	"encoding/binary"
	"io"

	"github.com/ossrs/go-oryx-lib/aac"
	"github.com/torresjeff/rtmp-publisher/amf/amf0"
	"github.com/torresjeff/rtmp-publisher/audio"
	"github.com/torresjeff/rtmp-publisher/video"
	"github.com/yapingcat/gomedia/codec"
)

// probeLimit bounds the frames read ahead while looking for the stream configuration.
const probeLimit = 128

// Metadata reads ahead in src until it has seen a frame of both kinds, or the end, and describes the configuration
// found as onMetaData properties. The returned source replays the frames read ahead.
func Metadata(src Source) (Source, amf0.Object, error) {
	var frames []Frame
	var seenAudio, seenVideo bool
	for len(frames) < probeLimit && !(seenAudio && seenVideo) {
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		frames = append(frames, f)
		if f.Kind == Audio {
			seenAudio = true
		} else if f.Kind == Video {
			seenVideo = true
		}
	}

	metadata := amf0.Object{}
	for _, f := range frames {
		switch f.Kind {
		case VideoConfig:
			describeVideo(metadata, f)
		case AudioConfig:
			describeAudio(metadata, f)
		}
	}
	return &replaySource{frames: frames, src: src}, metadata, nil
}

func describeVideo(metadata amf0.Object, f Frame) {
	metadata["videocodecid"] = amf0.Number(f.VideoCodec)
	var width, height uint32
	switch f.VideoCodec {
	case video.H264:
		width, height = avcResolution(f.Data)
	case video.HEVC:
		// enhanced RTMP reports the FourCC
		metadata["videocodecid"] = amf0.Number(binary.BigEndian.Uint32([]byte(video.FourCCHEVC)))
		width, height = hevcResolution(f.Data)
	}
	if width > 0 && height > 0 {
		metadata["width"] = amf0.Number(width)
		metadata["height"] = amf0.Number(height)
	}
}

func describeAudio(metadata amf0.Object, f Frame) {
	if f.AudioFormat == audio.ExHeader {
		if channels, rate, err := parseOpusHead(f.Data); err == nil {
			metadata["audiocodecid"] = amf0.Number(binary.BigEndian.Uint32([]byte(audio.FourCCOpus)))
			metadata["audiosamplerate"] = amf0.Number(rate)
			metadata["audiochannels"] = amf0.Number(channels)
			metadata["stereo"] = amf0.Boolean(channels > 1)
		}
		return
	}
	metadata["audiocodecid"] = amf0.Number(audio.AAC)
	var asc aac.AudioSpecificConfig
	if err := asc.UnmarshalBinary(f.Data); err != nil {
		return
	}
	metadata["audiosamplerate"] = amf0.Number(asc.SampleRate.ToHz())
	metadata["audiochannels"] = amf0.Number(asc.Channels)
	metadata["stereo"] = amf0.Boolean(asc.Channels > 1)
}

// avcResolution reads the picture size from the first SPS of an avcC record.
func avcResolution(avcC []byte) (width, height uint32) {
	if len(avcC) < 8 || avcC[5]&0x1f == 0 {
		return 0, 0
	}
	n := int(binary.BigEndian.Uint16(avcC[6:8]))
	if len(avcC) < 8+n || n < 4 {
		return 0, 0
	}
	defer func() {
		if recover() != nil {
			width, height = 0, 0
		}
	}()
	return codec.GetH264Resolution(withStartCode(avcC[8 : 8+n]))
}

// hevcResolution reads the picture size from the first SPS of an hvcC record.
func hevcResolution(hvcC []byte) (width, height uint32) {
	defer func() {
		if recover() != nil {
			width, height = 0, 0
		}
	}()
	record := codec.NewHEVCRecordConfiguration()
	record.Decode(hvcC)
	for _, array := range record.Arrays {
		if array.NAL_unit_type != hevcNALUTypeSPS || len(array.NalUnits) == 0 {
			continue
		}
		return codec.GetH265Resolution(withStartCode(array.NalUnits[0].Nalu))
	}
	return 0, 0
}
