// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package blockwise splits a payload into bounded blocks for transports that
// can only carry a limited number of bytes per message, and puts it back
// together on the receiving side.
package blockwise

import (
	"errors"
	"fmt"
)

var (
	ErrZeroBlockSize    = errors.New("requested block size is zero")
	ErrBlockOutOfOrder  = errors.New("block requested out of order")
	ErrPayloadExhausted = errors.New("payload already fully produced")
)

// BlockProducer fills buf with the block at index. len(buf) is the size the
// sink asks for; n is how much was written and last marks the final block.
type BlockProducer interface {
	ProduceBlock(index uint32, buf []byte) (n int, last bool, err error)
}

// Driver produces the blocks of one payload. It tracks the offset explicitly,
// so the sink may change its block size between calls.
type Driver struct {
	payload []byte
	offset  int
	index   uint32
	done    bool
}

// NewDriver returns a Driver positioned at the start of payload.
func NewDriver(payload []byte) *Driver {
	return &Driver{payload: payload}
}

// Reset rewinds the driver onto a new payload.
func (d *Driver) Reset(payload []byte) {
	d.payload = payload
	d.offset = 0
	d.index = 0
	d.done = false
}

// Len is the total payload length.
func (d *Driver) Len() int { return len(d.payload) }

// Offset is the number of payload bytes already produced.
func (d *Driver) Offset() int { return d.offset }

// Done reports whether the last block has been produced.
func (d *Driver) Done() bool { return d.done }

func (d *Driver) ProduceBlock(index uint32, buf []byte) (int, bool, error) {
	if d.done {
		return 0, false, ErrPayloadExhausted
	}
	if index != d.index {
		return 0, false, fmt.Errorf("%w: got %d, expected %d", ErrBlockOutOfOrder, index, d.index)
	}
	if len(buf) == 0 {
		return 0, false, ErrZeroBlockSize
	}

	remaining := len(d.payload) - d.offset
	n, last := len(buf), false
	if remaining <= len(buf) {
		n, last = remaining, true
	}
	copy(buf, d.payload[d.offset:d.offset+n])

	d.offset += n
	d.index++
	d.done = last
	return n, last, nil
}
