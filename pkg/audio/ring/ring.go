// Package ring provides a lock-free single-producer/single-consumer ring of
// length-prefixed byte records.
//
// It is the hand-off between an audio back end's real-time callback and the
// goroutine that assembles utterances. The producer side never blocks,
// allocates, or takes a lock: a record that does not fit is dropped whole and
// counted. The consumer side reads whole records in FIFO order.
//
// Each record is stored as a 4-byte little-endian payload length followed by
// the payload bytes. Records wrap around the end of the buffer. One byte of
// capacity is kept free so that a full ring can be told apart from an empty
// one.
//
// Exactly one goroutine may call the producer methods ([Ring.Write],
// [Ring.WriteTagged]) and exactly one may call the consumer methods
// ([Ring.Read]). [Ring.Stats] is safe from anywhere but may observe a torn
// view and is meant for diagnostics. [Ring.Reset] requires both sides to be
// quiescent.
package ring

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// HeaderSize is the size of the length prefix stored before each record.
const HeaderSize = 4

// MinCapacity is the smallest accepted ring capacity in bytes.
const MinCapacity = 4096

// ErrCapacityTooSmall is returned by [New] for capacities below [MinCapacity].
var ErrCapacityTooSmall = errors.New("ring: capacity too small")

// Ring is a framed SPSC byte ring. Create one with [New].
type Ring struct {
	buf  []byte
	size uint64

	// Cursors live on separate cache lines; each is written by one side only.
	write atomic.Uint64
	_     [56]byte
	read  atomic.Uint64
	_     [56]byte

	// Producer-side counters.
	writes    atomic.Uint64
	drops     atomic.Uint64
	dropBytes atomic.Uint64
}

// New allocates a ring holding capacity bytes, including record headers.
func New(capacity int) (*Ring, error) {
	if capacity < MinCapacity {
		return nil, fmt.Errorf("%w: %d < %d", ErrCapacityTooSmall, capacity, MinCapacity)
	}
	return &Ring{
		buf:  make([]byte, capacity),
		size: uint64(capacity),
	}, nil
}

// Capacity returns the total ring size in bytes.
func (r *Ring) Capacity() int { return int(r.size) }

// MaxRecord returns the largest payload that fits into an empty ring.
func (r *Ring) MaxRecord() int { return int(r.size) - 1 - HeaderSize }

func (r *Ring) used(w, rd uint64) uint64 {
	return (w + r.size - rd) % r.size
}

// Write appends payload as one record. It returns false and counts a drop
// when the record does not fit; nothing is written in that case.
// Producer side only.
func (r *Ring) Write(payload []byte) bool {
	return r.writeParts(nil, payload)
}

// WriteTagged appends one record whose payload is tag (4 bytes, little
// endian) followed by payload. Producer side only.
func (r *Ring) WriteTagged(tag uint32, payload []byte) bool {
	var t [4]byte
	binary.LittleEndian.PutUint32(t[:], tag)
	return r.writeParts(t[:], payload)
}

func (r *Ring) writeParts(head, body []byte) bool {
	n := uint64(len(head) + len(body))
	w := r.write.Load()
	rd := r.read.Load()
	free := r.size - 1 - r.used(w, rd)
	if HeaderSize+n > free {
		r.drops.Add(1)
		r.dropBytes.Add(n)
		return false
	}

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(n))
	w = r.put(w, hdr[:])
	if len(head) > 0 {
		w = r.put(w, head)
	}
	w = r.put(w, body)

	r.write.Store(w)
	r.writes.Add(1)
	return true
}

func (r *Ring) put(pos uint64, p []byte) uint64 {
	k := copy(r.buf[pos:], p)
	if k < len(p) {
		copy(r.buf, p[k:])
	}
	return (pos + uint64(len(p))) % r.size
}

func (r *Ring) get(pos uint64, p []byte) {
	k := copy(p, r.buf[pos:])
	if k < len(p) {
		copy(p[k:], r.buf)
	}
}

// Read removes the oldest complete record and copies its payload into dst.
// A payload longer than dst is truncated to len(dst) and the remainder is
// discarded. It returns the number of bytes copied and false when no
// complete record is buffered. Consumer side only.
func (r *Ring) Read(dst []byte) (int, bool) {
	rd := r.read.Load()
	w := r.write.Load()
	avail := r.used(w, rd)
	if avail < HeaderSize {
		return 0, false
	}

	var hdr [HeaderSize]byte
	r.get(rd, hdr[:])
	n := uint64(binary.LittleEndian.Uint32(hdr[:]))
	if avail < HeaderSize+n {
		return 0, false
	}

	m := min(n, uint64(len(dst)))
	r.get((rd+HeaderSize)%r.size, dst[:m])
	r.read.Store((rd + HeaderSize + n) % r.size)
	return int(m), true
}

// Reset empties the ring. Counters are kept. Both sides must be quiescent.
func (r *Ring) Reset() {
	r.read.Store(0)
	r.write.Store(0)
}

// Stats is a point-in-time view of ring occupancy and producer counters.
type Stats struct {
	Capacity  int
	Used      int
	Free      int
	ReadPos   int
	WritePos  int
	Writes    uint64
	Drops     uint64
	DropBytes uint64
}

// Utilization returns Used as a fraction of usable capacity in [0, 1].
func (s Stats) Utilization() float64 {
	if s.Capacity <= 1 {
		return 0
	}
	return float64(s.Used) / float64(s.Capacity-1)
}

// Stats returns a diagnostic snapshot. Fields are loaded independently.
func (r *Ring) Stats() Stats {
	w := r.write.Load()
	rd := r.read.Load()
	used := r.used(w, rd)
	return Stats{
		Capacity:  int(r.size),
		Used:      int(used),
		Free:      int(r.size - 1 - used),
		ReadPos:   int(rd),
		WritePos:  int(w),
		Writes:    r.writes.Load(),
		Drops:     r.drops.Load(),
		DropBytes: r.dropBytes.Load(),
	}
}
