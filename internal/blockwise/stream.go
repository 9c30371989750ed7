package blockwise

import (
	"context"
	"fmt"
)

// SendFunc delivers one encoded frame. It must not retain b after returning.
type SendFunc func(ctx context.Context, f Frame, b []byte) error

// Stats summarizes one streamed payload.
type Stats struct {
	Blocks int
	Bytes  int
}

// Stream drives p until it reports the last block, sending each block as a
// frame of at most blockSize data bytes. The first error ends the stream;
// nothing is retried here.
func Stream(ctx context.Context, path string, session uint32, p BlockProducer, blockSize int, send SendFunc) (Stats, error) {
	var st Stats
	if blockSize <= 0 {
		return st, ErrZeroBlockSize
	}

	buf := make([]byte, blockSize)
	frame := make([]byte, 0, HeaderLen(path)+blockSize)
	var offset uint32
	for index := uint32(0); ; index++ {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		n, last, err := p.ProduceBlock(index, buf)
		if err != nil {
			return st, fmt.Errorf("produce block %d: %w", index, err)
		}

		f := Frame{
			Path:    path,
			Session: session,
			Block:   Block{Index: index, Offset: offset, Last: last, Data: buf[:n]},
		}
		frame, err = AppendFrame(frame[:0], f)
		if err != nil {
			return st, err
		}
		if err := send(ctx, f, frame); err != nil {
			return st, fmt.Errorf("send block %d: %w", index, err)
		}

		offset += uint32(n)
		st.Blocks++
		st.Bytes += n
		if last {
			return st, nil
		}
	}
}
