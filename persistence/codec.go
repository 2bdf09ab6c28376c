package persistence

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Stored payloads are framed so the on-store format can evolve without
// orphaning old snapshots:
//
//	magic(2) version(1) flags(1) length(4, big endian) body(length)
//
// flagGzip marks the body as gzip-compressed.
const (
	frameVersion = 1
	frameHeader  = 8

	flagGzip byte = 1 << 0
)

var frameMagic = [2]byte{'t', 's'}

var (
	// ErrBadFrame is returned when a stored payload fails to parse.
	ErrBadFrame = errors.New("malformed snapshot frame")
	// ErrFrameVersion is returned for frames written by an unknown newer
	// format.
	ErrFrameVersion = errors.New("unsupported snapshot frame version")
)

func encodeFrame(payload []byte, compress bool) ([]byte, error) {
	body := payload
	var flags byte
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, errors.Wrap(err, "compressing snapshot payload")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "compressing snapshot payload")
		}
		body = buf.Bytes()
		flags |= flagGzip
	}
	frame := make([]byte, frameHeader+len(body))
	frame[0] = frameMagic[0]
	frame[1] = frameMagic[1]
	frame[2] = frameVersion
	frame[3] = flags
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[frameHeader:], body)
	return frame, nil
}

func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeader || frame[0] != frameMagic[0] || frame[1] != frameMagic[1] {
		return nil, ErrBadFrame
	}
	if frame[2] != frameVersion {
		return nil, errors.Wrapf(ErrFrameVersion, "version %d", frame[2])
	}
	flags := frame[3]
	length := binary.BigEndian.Uint32(frame[4:8])
	if int(length) != len(frame)-frameHeader {
		return nil, errors.Wrap(ErrBadFrame, "length mismatch")
	}
	body := frame[frameHeader:]
	if flags&flagGzip == 0 {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(ErrBadFrame, err.Error())
	}
	defer zr.Close()
	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(ErrBadFrame, err.Error())
	}
	return payload, nil
}
