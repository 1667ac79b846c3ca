package audio

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// As defined in the FLV spec: https://www.adobe.com/content/dam/acom/en/devnet/flv/video_file_format_spec_v10_1.pdf
// and the enhanced RTMP extension for codecs carried with a FourCC (Opus).

type Format uint8

const (
	LinearPCMPlatformEndian Format = 0
	ADPCM                   Format = 1
	MP3                     Format = 2
	LinearPCMLittleEndian   Format = 3
	Nellymoser16KHzMono     Format = 4
	Nellymoser8KHzMono      Format = 5
	Nellymoser              Format = 6
	G711AlawLogPCM          Format = 7
	G711MulawLogPCM         Format = 8
	// ExHeader marks an enhanced audio tag: the low nibble is a PacketType and a FourCC follows.
	ExHeader            Format = 9
	AAC                 Format = 10
	Speex               Format = 11
	MP38KHz             Format = 14
	DeviceSpecificSound Format = 15
)

type SampleRate uint8

const (
	Rate5p5KHz SampleRate = 0
	Rate11KHz  SampleRate = 1
	Rate22KHz  SampleRate = 2
	Rate44KHz  SampleRate = 3
)

type SampleSize uint8

const (
	Size8Bit  SampleSize = 0
	Size16Bit SampleSize = 1
)

type Channel uint8

const (
	Mono   Channel = 0
	Stereo Channel = 1
)

type AACPacketType uint8

const (
	AACSequenceHeader AACPacketType = 0
	AACRaw            AACPacketType = 1
)

// PacketType is the packet type of an enhanced (ExHeader) audio tag.
type PacketType uint8

const (
	PacketTypeSequenceStart PacketType = 0
	PacketTypeCodedFrames   PacketType = 1
)

// FourCCOpus identifies Opus in enhanced audio tags.
const FourCCOpus = "Opus"

// AACHeader is the first byte of every AAC tag. The FLV spec requires 44 kHz, 16 bit, stereo for AAC,
// the real parameters travel in the AudioSpecificConfig.
const AACHeader = byte(AAC)<<4 | byte(Rate44KHz)<<2 | byte(Size16Bit)<<1 | byte(Stereo)

var ErrTagTooShort = errors.New("audio: tag too short")
var ErrUnsupportedFourCC = errors.New("audio: unsupported FourCC")

// AACSequenceHeaderTag returns the tag carrying the AudioSpecificConfig of an AAC stream.
func AACSequenceHeaderTag(asc []byte) []byte {
	tag := make([]byte, 0, 2+len(asc))
	tag = append(tag, AACHeader, byte(AACSequenceHeader))
	return append(tag, asc...)
}

// AACRawTag returns the tag carrying one raw AAC frame (no ADTS header).
func AACRawTag(frame []byte) []byte {
	tag := make([]byte, 0, 2+len(frame))
	tag = append(tag, AACHeader, byte(AACRaw))
	return append(tag, frame...)
}

// OpusSequenceHeaderTag returns the enhanced tag carrying an OpusHead identification header.
func OpusSequenceHeaderTag(channels uint8, sampleRate uint32) []byte {
	tag := make([]byte, 0, 5+19)
	tag = append(tag, byte(ExHeader)<<4|byte(PacketTypeSequenceStart))
	tag = append(tag, FourCCOpus...)
	tag = append(tag, "OpusHead"...)
	// version, channel count, pre-skip
	tag = append(tag, 1, channels, 0, 0)
	tag = binary.BigEndian.AppendUint32(tag, sampleRate)
	// output gain, channel mapping family
	return append(tag, 0, 0, 0)
}

// OpusFrameTag returns the enhanced tag carrying one Opus packet.
func OpusFrameTag(frame []byte) []byte {
	tag := make([]byte, 0, 5+len(frame))
	tag = append(tag, byte(ExHeader)<<4|byte(PacketTypeCodedFrames))
	tag = append(tag, FourCCOpus...)
	return append(tag, frame...)
}

// Tag is a parsed FLV audio tag.
type Tag struct {
	Format     Format
	SampleRate SampleRate
	SampleSize SampleSize
	Channel    Channel
	// IsSequenceHeader is true for AAC sequence headers and enhanced sequence start packets.
	IsSequenceHeader bool
	FourCC           string
	Data             []byte
}

// ParseTag splits an FLV audio tag into its header fields and codec payload.
func ParseTag(b []byte) (Tag, error) {
	if len(b) < 1 {
		return Tag{}, ErrTagTooShort
	}
	tag := Tag{
		Format:     Format(b[0] >> 4),
		SampleRate: SampleRate((b[0] & 0x0C) >> 2),
		SampleSize: SampleSize((b[0] & 0x02) >> 1),
		Channel:    Channel(b[0] & 0x01),
	}
	switch tag.Format {
	case AAC:
		if len(b) < 2 {
			return Tag{}, ErrTagTooShort
		}
		tag.IsSequenceHeader = AACPacketType(b[1]) == AACSequenceHeader
		tag.Data = b[2:]
	case ExHeader:
		if len(b) < 5 {
			return Tag{}, ErrTagTooShort
		}
		tag.FourCC = string(b[1:5])
		if tag.FourCC != FourCCOpus {
			return Tag{}, errors.Wrapf(ErrUnsupportedFourCC, "%q", tag.FourCC)
		}
		tag.IsSequenceHeader = PacketType(b[0]&0x0F) == PacketTypeSequenceStart
		tag.Data = b[5:]
	default:
		tag.Data = b[1:]
	}
	return tag, nil
}
