package blockwise

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameVersion is the only frame layout understood by this package.
const FrameVersion = 1

const (
	flagLast = 1 << 0

	fixedHeaderLen = 1 + 1 + 1 + 4 + 4 + 4 // version, flags, path len, session, index, offset
	// MaxPathLen is the longest path a frame can carry.
	MaxPathLen = 0xff
)

var ErrBadFrame = errors.New("malformed block frame")

// Block is one produced piece of a payload.
type Block struct {
	Index  uint32
	Offset uint32
	Last   bool
	Data   []byte
}

// Frame is a Block addressed to a payload path within an upload session.
//
// Wire layout (multi-byte fields big-endian):
//
//	version(1) flags(1) pathLen(1) path session(4) index(4) offset(4) data
type Frame struct {
	Path    string
	Session uint32
	Block
}

// HeaderLen is the frame overhead for a given path.
func HeaderLen(path string) int {
	return fixedHeaderLen + len(path)
}

// AppendFrame appends the wire form of f to dst.
func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	if len(f.Path) == 0 || len(f.Path) > MaxPathLen {
		return nil, fmt.Errorf("%w: path length %d", ErrBadFrame, len(f.Path))
	}
	var flags byte
	if f.Last {
		flags |= flagLast
	}
	dst = append(dst, FrameVersion, flags, byte(len(f.Path)))
	dst = append(dst, f.Path...)
	dst = binary.BigEndian.AppendUint32(dst, f.Session)
	dst = binary.BigEndian.AppendUint32(dst, f.Index)
	dst = binary.BigEndian.AppendUint32(dst, f.Offset)
	return append(dst, f.Data...), nil
}

// ParseFrame decodes a frame. The returned Data aliases b.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) < fixedHeaderLen {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(b))
	}
	if b[0] != FrameVersion {
		return Frame{}, fmt.Errorf("%w: version %d", ErrBadFrame, b[0])
	}
	flags := b[1]
	if flags&^flagLast != 0 {
		return Frame{}, fmt.Errorf("%w: flags 0x%02x", ErrBadFrame, flags)
	}
	pathLen := int(b[2])
	if pathLen == 0 || len(b) < fixedHeaderLen+pathLen {
		return Frame{}, fmt.Errorf("%w: path length %d", ErrBadFrame, pathLen)
	}
	p := 3
	path := string(b[p : p+pathLen])
	p += pathLen
	f := Frame{
		Path:    path,
		Session: binary.BigEndian.Uint32(b[p:]),
		Block: Block{
			Index:  binary.BigEndian.Uint32(b[p+4:]),
			Offset: binary.BigEndian.Uint32(b[p+8:]),
			Last:   flags&flagLast != 0,
			Data:   b[p+12:],
		},
	}
	return f, nil
}
