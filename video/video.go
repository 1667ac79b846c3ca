package video

import (
	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-publisher/internal/binary24"
)

// As defined in the FLV spec: https://www.adobe.com/content/dam/acom/en/devnet/flv/video_file_format_spec_v10_1.pdf
// HEVC is carried with the enhanced RTMP extension: bit 7 of the first byte is set, the low nibble holds a
// PacketType and a FourCC follows.

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	// Video info/command frame
	CommandFrame FrameType = 5
)

type Codec uint8

const (
	SorensonH263    Codec = 2
	ScreenVideo     Codec = 3
	VP6             Codec = 4
	VP6AlphaChannel Codec = 5
	ScreenVideoV2   Codec = 6
	H264            Codec = 7
	// HEVC never appears in the codec nibble, it's identified by FourCCHEVC.
	HEVC Codec = 12
)

type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

// PacketType is the packet type of an enhanced video tag.
type PacketType uint8

const (
	PacketTypeSequenceStart PacketType = 0
	PacketTypeCodedFrames   PacketType = 1
	PacketTypeSequenceEnd   PacketType = 2
	// Coded frames with an implicit composition time of 0.
	PacketTypeCodedFramesX PacketType = 3
	PacketTypeMetadata     PacketType = 4
)

const ExHeader byte = 0x80

const FourCCHEVC = "hvc1"

var ErrTagTooShort = errors.New("video: tag too short")
var ErrUnsupportedCodec = errors.New("video: unsupported codec")

// AVCSequenceHeaderTag returns the key frame tag carrying an AVCDecoderConfigurationRecord.
func AVCSequenceHeaderTag(avcC []byte) []byte {
	tag := make([]byte, 0, 5+len(avcC))
	tag = append(tag, byte(KeyFrame)<<4|byte(H264), byte(AVCSequenceHeader), 0, 0, 0)
	return append(tag, avcC...)
}

// AVCFrameTag returns the tag carrying length prefixed NAL units of one access unit. compositionTime is pts - dts
// in milliseconds.
func AVCFrameTag(frameType FrameType, compositionTime int32, nalus []byte) []byte {
	tag := make([]byte, 0, 5+len(nalus))
	tag = append(tag, byte(frameType)<<4|byte(H264), byte(AVCNALU))
	tag = append(tag, 0, 0, 0)
	binary24.BigEndian.PutInt24(tag[len(tag)-3:], compositionTime)
	return append(tag, nalus...)
}

// HEVCSequenceHeaderTag returns the enhanced key frame tag carrying an HEVCDecoderConfigurationRecord.
func HEVCSequenceHeaderTag(hvcC []byte) []byte {
	tag := make([]byte, 0, 5+len(hvcC))
	tag = append(tag, ExHeader|byte(KeyFrame)<<4|byte(PacketTypeSequenceStart))
	tag = append(tag, FourCCHEVC...)
	return append(tag, hvcC...)
}

// HEVCFrameTag returns the enhanced tag carrying length prefixed NAL units of one access unit.
func HEVCFrameTag(frameType FrameType, compositionTime int32, nalus []byte) []byte {
	tag := make([]byte, 0, 8+len(nalus))
	tag = append(tag, ExHeader|byte(frameType)<<4|byte(PacketTypeCodedFrames))
	tag = append(tag, FourCCHEVC...)
	tag = append(tag, 0, 0, 0)
	binary24.BigEndian.PutInt24(tag[len(tag)-3:], compositionTime)
	return append(tag, nalus...)
}

// Tag is a parsed FLV video tag.
type Tag struct {
	FrameType FrameType
	Codec     Codec
	// IsSequenceHeader is true for AVC sequence headers and enhanced sequence start packets.
	IsSequenceHeader bool
	// CompositionTime is the signed pts - dts offset in milliseconds.
	CompositionTime int32
	Data            []byte
}

// ParseTag splits an AVC or HEVC tag into its header fields and codec payload.
func ParseTag(b []byte) (Tag, error) {
	if len(b) < 1 {
		return Tag{}, ErrTagTooShort
	}
	if b[0]&ExHeader != 0 {
		return parseExTag(b)
	}
	tag := Tag{
		FrameType: FrameType(b[0] >> 4),
		Codec:     Codec(b[0] & 0x0F),
	}
	if tag.Codec != H264 {
		return Tag{}, errors.Wrapf(ErrUnsupportedCodec, "codec id %d", tag.Codec)
	}
	if len(b) < 5 {
		return Tag{}, ErrTagTooShort
	}
	tag.IsSequenceHeader = AVCPacketType(b[1]) == AVCSequenceHeader
	tag.CompositionTime = binary24.BigEndian.Int24(b[2:5])
	tag.Data = b[5:]
	return tag, nil
}

func parseExTag(b []byte) (Tag, error) {
	if len(b) < 5 {
		return Tag{}, ErrTagTooShort
	}
	if fourCC := string(b[1:5]); fourCC != FourCCHEVC {
		return Tag{}, errors.Wrapf(ErrUnsupportedCodec, "FourCC %q", fourCC)
	}
	tag := Tag{
		FrameType: FrameType((b[0] >> 4) & 0x07),
		Codec:     HEVC,
	}
	switch PacketType(b[0] & 0x0F) {
	case PacketTypeSequenceStart:
		tag.IsSequenceHeader = true
		tag.Data = b[5:]
	case PacketTypeCodedFrames:
		if len(b) < 8 {
			return Tag{}, ErrTagTooShort
		}
		tag.CompositionTime = binary24.BigEndian.Int24(b[5:8])
		tag.Data = b[8:]
	default:
		tag.Data = b[5:]
	}
	return tag, nil
}
