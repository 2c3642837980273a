package bridge

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// frameKind tags one frame on the bridge stream.
type frameKind byte

const (
	// frameBatch carries one serialized non-empty batch; consumes one
	// credit, returned by a frameAck.
	frameBatch frameKind = iota + 1
	// frameTick is a liveness signal; free of charge.
	frameTick
	// frameDone ends the stream; no batches follow.
	frameDone
	// frameAck returns one credit to the egress.
	frameAck
)

// maxFramePayload caps a single frame. A batch larger than this is an
// egress bug, not a user error.
const maxFramePayload = 64 << 20

// writeFrame emits one frame: a kind byte, a big-endian payload length,
// and the payload.
func writeFrame(w io.Writer, kind frameKind, payload []byte) error {
	if len(payload) > maxFramePayload {
		return errors.Errorf("bridge frame payload of %d bytes exceeds the %d byte cap",
			len(payload), maxFramePayload)
	}
	var header [5]byte
	header[0] = byte(kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one frame.
func readFrame(r io.Reader) (frameKind, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	kind := frameKind(header[0])
	size := binary.BigEndian.Uint32(header[1:])
	if size > maxFramePayload {
		return 0, nil, errors.Errorf("bridge frame announces %d bytes, cap is %d",
			size, maxFramePayload)
	}
	if size == 0 {
		return kind, nil, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return kind, payload, nil
}
