package blockwise

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrOutOfSequence   = errors.New("block out of sequence")
	ErrPayloadTooLarge = errors.New("payload exceeds limit")
)

// Key identifies one upload session from one source.
type Key struct {
	Source  string
	Path    string
	Session uint32
}

// Payload is a fully reassembled upload.
type Payload struct {
	Key
	Data   []byte
	Blocks int
}

type partial struct {
	next    uint32
	data    []byte
	updated time.Time
}

// Reassembler collects frames per session and hands back complete payloads.
// Frames of a session must arrive in order; an exact resend of a block that
// was already accepted is ignored.
type Reassembler struct {
	mu         sync.Mutex
	maxPayload int
	ttl        time.Duration
	now        func() time.Time
	sessions   map[Key]*partial
	completed  map[Key]time.Time
}

// NewReassembler returns a Reassembler that rejects payloads above maxPayload
// bytes and forgets sessions idle for longer than ttl.
func NewReassembler(maxPayload int, ttl time.Duration) *Reassembler {
	return &Reassembler{
		maxPayload: maxPayload,
		ttl:        ttl,
		now:        time.Now,
		sessions:   make(map[Key]*partial),
		completed:  make(map[Key]time.Time),
	}
}

// Add accepts one frame from source. It returns the payload when f completes
// it, nil while the session is still open or when f is a duplicate.
func (r *Reassembler) Add(source string, f Frame) (*Payload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	key := Key{Source: source, Path: f.Path, Session: f.Session}
	if _, ok := r.completed[key]; ok {
		return nil, nil
	}

	p, ok := r.sessions[key]
	if !ok {
		if f.Index != 0 {
			return nil, fmt.Errorf("%w: session %d starts at block %d", ErrOutOfSequence, f.Session, f.Index)
		}
		p = &partial{}
		r.sessions[key] = p
	}

	switch {
	case f.Index < p.next:
		return nil, nil
	case f.Index > p.next:
		delete(r.sessions, key)
		return nil, fmt.Errorf("%w: session %d got block %d, expected %d", ErrOutOfSequence, f.Session, f.Index, p.next)
	case int(f.Offset) != len(p.data):
		delete(r.sessions, key)
		return nil, fmt.Errorf("%w: session %d block %d at offset %d, expected %d", ErrOutOfSequence, f.Session, f.Index, f.Offset, len(p.data))
	case len(p.data)+len(f.Data) > r.maxPayload:
		delete(r.sessions, key)
		return nil, fmt.Errorf("%w: session %d exceeds %d bytes", ErrPayloadTooLarge, f.Session, r.maxPayload)
	}

	p.data = append(p.data, f.Data...)
	p.next++
	p.updated = now
	if !f.Last {
		return nil, nil
	}

	delete(r.sessions, key)
	r.completed[key] = now
	return &Payload{Key: key, Data: p.data, Blocks: int(p.next)}, nil
}

// Pending is the number of sessions still waiting for their last block.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Reassembler) prune(now time.Time) {
	for k, p := range r.sessions {
		if now.Sub(p.updated) > r.ttl {
			delete(r.sessions, k)
		}
	}
	for k, at := range r.completed {
		if now.Sub(at) > r.ttl {
			delete(r.completed, k)
		}
	}
}
