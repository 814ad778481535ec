package rpc

import (
	"encoding/binary"
	"errors"
)

// FrameHeaderLen is the size of the big-endian task id prefixing every frame.
const FrameHeaderLen = 4

var ErrShortFrame = errors.New("frame shorter than task id header")

// Frame is one binary unit sent by a worker. A frame without payload marks
// the end of the task's stream.
type Frame struct {
	TaskID  uint32
	Payload []byte
	EOS     bool
}

// EncodeFrame builds a frame for id; an empty chunk encodes end-of-stream.
func EncodeFrame(id uint32, chunk []byte) []byte {
	b := make([]byte, FrameHeaderLen+len(chunk))
	binary.BigEndian.PutUint32(b, id)
	copy(b[FrameHeaderLen:], chunk)
	return b
}

// DecodeFrame splits a binary message into task id and payload. The payload
// aliases b.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < FrameHeaderLen {
		return Frame{}, ErrShortFrame
	}
	f := Frame{TaskID: binary.BigEndian.Uint32(b)}
	if len(b) == FrameHeaderLen {
		f.EOS = true
		return f, nil
	}
	f.Payload = b[FrameHeaderLen:]
	return f, nil
}
