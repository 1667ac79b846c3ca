package rtmp

import (
	"net/url"

	"github.com/torresjeff/rtmp-publisher/amf/amf0"
	"github.com/torresjeff/rtmp-publisher/config"
)

// Command names sent or handled by the client.
const (
	commandConnect       = "connect"
	commandCreateStream  = "createStream"
	commandReleaseStream = "releaseStream"
	commandFCPublish     = "FCPublish"
	commandFCUnpublish   = "FCUnpublish"
	commandPublish       = "publish"
	commandDeleteStream  = "deleteStream"
	commandCloseStream   = "closeStream"
	commandResult        = "_result"
	commandError         = "_error"
	commandOnStatus      = "onStatus"
	commandClose         = "close"
)

const (
	handlerSetDataFrame = "@setDataFrame"
	handlerOnMetaData   = "onMetaData"
)

// newChunk returns the first chunk of m. The message length is always the payload length.
func newChunk(chunkType ChunkType, csid uint32, m *Message) *Chunk {
	return &Chunk{
		Header: ChunkHeader{
			ChunkType:       chunkType,
			ChunkStreamID:   csid,
			Timestamp:       m.Timestamp,
			MessageLength:   m.Length,
			MessageType:     m.Type,
			MessageStreamID: m.StreamID,
		},
		Payload: m.Payload,
	}
}

// Control messages MUST have message stream ID 0 and be sent in chunk stream ID 2
func generateControlMessage(body Body) (*Chunk, error) {
	m, err := NewMessage(body, 0, 0)
	if err != nil {
		return nil, err
	}
	return newChunk(ChunkType0, ProtocolChannel, m), nil
}

func generateWindowAckSizeMessage(size uint32) (*Chunk, error) {
	return generateControlMessage(&WindowAckSize{Size: size})
}

func generateSetChunkSizeMessage(chunkSize uint32) (*Chunk, error) {
	return generateControlMessage(&SetChunkSize{Size: chunkSize})
}

// generateAckMessage reports the number of bytes received so far.
func generateAckMessage(sequenceNumber uint32) (*Chunk, error) {
	return generateControlMessage(&Acknowledgement{SequenceNumber: sequenceNumber})
}

// generatePingResponseMessage echoes the timestamp of a ping request.
func generatePingResponseMessage(timestamp uint32) (*Chunk, error) {
	return generateControlMessage(&UserControl{Event: UserControlPingResponse, Value: timestamp})
}

// generateConnectRequest builds the connect command for u. The object encoding is always AMF0.
func generateConnectRequest(u *url.URL, flashVer string, transactionID int) *Command {
	return &Command{
		Name:          commandConnect,
		TransactionID: transactionID,
		CommandObject: amf0.Object{
			"app":            amf0.String(appName(u)),
			"flashVer":       amf0.String(flashVer),
			"swfUrl":         amf0.Null{},
			"tcUrl":          amf0.String(tcURL(u)),
			"fpad":           amf0.Boolean(false),
			"capabilities":   amf0.Number(config.Capabilities),
			"audioCodecs":    amf0.Number(config.AudioCodecs),
			"videoCodecs":    amf0.Number(config.VideoCodecs),
			"videoFunction":  amf0.Number(config.VideoFunction),
			"pageUrl":        amf0.Null{},
			"objectEncoding": amf0.Number(0),
		},
	}
}

// generateDeleteStreamMessage is sent without expecting a reply, on the stream being deleted.
func generateDeleteStreamMessage(streamID uint32) (*Message, error) {
	return NewMessage(&Command{
		Name:      commandDeleteStream,
		Arguments: []amf0.Value{amf0.Number(streamID)},
	}, streamID, 0)
}

// generateCloseStreamMessage is sent on the command chunk stream with a full header, on message stream 0.
func generateCloseStreamMessage(streamID uint32) (*Chunk, error) {
	m, err := NewMessage(&Command{
		Name:      commandCloseStream,
		Arguments: []amf0.Value{amf0.Number(streamID)},
	}, 0, 0)
	if err != nil {
		return nil, err
	}
	return newChunk(ChunkType0, CommandChannel, m), nil
}

func generatePublishRequest(streamName string) *Command {
	return &Command{
		Name:      commandPublish,
		Arguments: []amf0.Value{amf0.String(streamName), amf0.String("live")},
	}
}

// generateMetadataMessage wraps metadata in @setDataFrame("onMetaData", metadata).
func generateMetadataMessage(metadata amf0.Object) *Data {
	return &Data{
		Handler:   handlerSetDataFrame,
		Arguments: []amf0.Value{amf0.String(handlerOnMetaData), amf0.ECMAArray(metadata)},
	}
}
