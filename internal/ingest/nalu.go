package ingest

import (
	"encoding/binary"

	"github.com/ossrs/go-oryx-lib/avc"
	"github.com/torresjeff/rtmp-publisher/video"
	"github.com/yapingcat/gomedia/codec"
)

// HEVC NAL unit types, ITU-T H.265 table 7-1.
const (
	hevcNALUTypeBLAWLP    = 16
	hevcNALUTypeCRANUT    = 21
	hevcNALUTypeVPS       = 32
	hevcNALUTypeSPS       = 33
	hevcNALUTypePPS       = 34
	hevcNALUTypeAUD       = 35
	hevcNALUTypeEOS       = 36
	hevcNALUTypeFillerEnd = 38
)

// stripStartCode returns nalu without its Annex-B start code.
func stripStartCode(nalu []byte) []byte {
	start, sc := codec.FindStartCode(nalu, 0)
	if start < 0 {
		return nalu
	}
	return nalu[start+int(sc):]
}

// withStartCode returns nalu prefixed with a 4 byte start code, the form the gomedia parsers expect.
func withStartCode(nalu []byte) []byte {
	b := make([]byte, 0, 4+len(nalu))
	b = append(b, 0, 0, 0, 1)
	return append(b, nalu...)
}

// appendLengthPrefixed appends nalu to b behind a 4 byte big endian length.
func appendLengthPrefixed(b []byte, nalu []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(nalu)))
	return append(b, nalu...)
}

type naluClass uint8

const (
	naluSlice naluClass = iota
	naluKeySlice
	naluParameterSet
	// Dropped from access units: delimiters, end of sequence and filler data.
	naluSkip
)

// classify sorts a NAL unit (without start code) of codec c into what the publisher does with it.
func classify(c video.Codec, nalu []byte) (naluClass, uint8) {
	if len(nalu) == 0 {
		return naluSkip, 0
	}
	if c == video.HEVC {
		t := (nalu[0] >> 1) & 0x3f
		switch {
		case t >= hevcNALUTypeBLAWLP && t <= hevcNALUTypeCRANUT:
			return naluKeySlice, t
		case t == hevcNALUTypeVPS || t == hevcNALUTypeSPS || t == hevcNALUTypePPS:
			return naluParameterSet, t
		case t >= hevcNALUTypeAUD && t <= hevcNALUTypeFillerEnd:
			return naluSkip, t
		}
		return naluSlice, t
	}

	header := avc.NewNALUHeader()
	if err := header.UnmarshalBinary(nalu); err != nil {
		return naluSkip, 0
	}
	t := uint8(header.NALUType)
	switch header.NALUType {
	case avc.NALUTypeIDR:
		return naluKeySlice, t
	case avc.NALUTypeSPS, avc.NALUTypePPS:
		return naluParameterSet, t
	case avc.NALUTypeAccessUnitDelimiter, avc.NALUTypeEOSequence, avc.NALUTypeEOStream, avc.NALUTypeFilterData:
		return naluSkip, t
	}
	return naluSlice, t
}

// parameterSets collects the parameter sets of a video stream and builds its decoder configuration record.
type parameterSets struct {
	codec video.Codec
	vps   []byte
	sps   []byte
	pps   []byte
	// record is the last record handed out.
	record []byte
}

func (p *parameterSets) update(t uint8, nalu []byte) {
	b := append([]byte(nil), nalu...)
	if p.codec == video.HEVC {
		switch t {
		case hevcNALUTypeVPS:
			p.vps = b
		case hevcNALUTypeSPS:
			p.sps = b
		case hevcNALUTypePPS:
			p.pps = b
		}
		return
	}
	switch avc.NALUType(t) {
	case avc.NALUTypeSPS:
		p.sps = b
	case avc.NALUTypePPS:
		p.pps = b
	}
}

func (p *parameterSets) complete() bool {
	if p.sps == nil || p.pps == nil {
		return false
	}
	return p.codec != video.HEVC || p.vps != nil
}

// changed builds the configuration record and reports whether it differs from the last one.
func (p *parameterSets) changed() ([]byte, bool, error) {
	if !p.complete() {
		return nil, false, nil
	}
	record, err := p.build()
	if err != nil {
		return nil, false, err
	}
	if p.record != nil && string(p.record) == string(record) {
		return nil, false, nil
	}
	p.record = record
	return record, true, nil
}

func (p *parameterSets) build() (record []byte, err error) {
	// The gomedia bitstream readers panic on truncated parameter sets.
	defer func() {
		if r := recover(); r != nil {
			record, err = nil, errMalformedParameterSet
		}
	}()
	if p.codec == video.HEVC {
		hvcc := codec.NewHEVCRecordConfiguration()
		hvcc.UpdateVPS(withStartCode(p.vps))
		hvcc.UpdateSPS(withStartCode(p.sps))
		hvcc.UpdatePPS(withStartCode(p.pps))
		return hvcc.Encode(), nil
	}
	if len(p.sps) < 4 {
		return nil, errMalformedParameterSet
	}
	return codec.CreateH264AVCCExtradata([][]byte{withStartCode(p.sps)}, [][]byte{withStartCode(p.pps)}), nil
}
