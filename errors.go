package rtmp

import "github.com/pkg/errors"

var ErrIncompleteChunk = errors.New("chunk: not enough bytes for the chunk header")
var ErrInvalidChunkType = errors.New("chunk: unknown chunk type")
var ErrNoPreviousChunkExists = errors.New("received chunk type that depends on a previous chunk, but no previous chunk was found")

var ErrUnknownMessageType = errors.New("message: unknown message type")
var ErrMessageNotReady = errors.New("message: payload is not complete")
var ErrShortPayload = errors.New("message: payload too short")

var ErrInvalidScheme = errors.New("invalid scheme in URL")
var ErrInvalidURLPath = errors.New("invalid URL path, expected /app/streamKey")
var ErrNotConnected = errors.New("session: not connected")
var ErrSessionClosed = errors.New("session: closed")
var ErrConnectTimeout = errors.New("session: connect timeout")
