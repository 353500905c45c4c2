// Package ringbuf implements the single-producer/single-consumer byte ring
// used to move length-framed messages across the supervisor/worker shared
// memory region. It is not safe for use by more than one producer or more
// than one consumer.
package ringbuf

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// HeaderSize is the fixed size, in bytes, of the region header that stores
// the head/tail cursors and the data-area capacity.
const HeaderSize = 64

const (
	headOffset     = 0
	tailOffset     = 4
	capacityOffset = 8
)

// lengthPrefixSize is the size of the per-record length prefix.
const lengthPrefixSize = 4

// Ring is a circular byte queue over a caller-supplied region of exactly
// HeaderSize+capacity bytes. The region may be a plain heap slice (tests) or
// a view into a memory-mapped shared-memory object (production); Ring never
// allocates or frees the region itself.
//
// Ring is not thread-safe for multiple producers or multiple consumers, but
// a single producer and a single consumer may operate on the same Ring
// concurrently without external locking: header stores are word-sized
// atomic operations, which on the supported targets provide the
// release/acquire pairing the SPSC algorithm relies on.
type Ring struct {
	region []byte
}

// New initializes a fresh ring over region, zeroing the cursors and stamping
// the data-area capacity into the header. region must be at least
// HeaderSize+1 bytes; the usable data area is len(region)-HeaderSize.
func New(region []byte) (*Ring, error) {
	if len(region) <= HeaderSize {
		return nil, fmt.Errorf("ringbuf: region of %d bytes too small for header of %d bytes", len(region), HeaderSize)
	}
	r := &Ring{region: region}
	capacity := uint32(len(region) - HeaderSize)
	atomic.StoreUint32(r.headPtr(), 0)
	atomic.StoreUint32(r.tailPtr(), 0)
	atomic.StoreUint32(r.capPtr(), capacity)
	return r, nil
}

// Open wraps an already-initialized region (its header was previously
// written by New, possibly in a different process sharing the same mapping).
func Open(region []byte) (*Ring, error) {
	if len(region) <= HeaderSize {
		return nil, fmt.Errorf("ringbuf: region of %d bytes too small for header of %d bytes", len(region), HeaderSize)
	}
	return &Ring{region: region}, nil
}

func (r *Ring) headPtr() *uint32 { return (*uint32)(unsafe.Pointer(&r.region[headOffset])) }
func (r *Ring) tailPtr() *uint32 { return (*uint32)(unsafe.Pointer(&r.region[tailOffset])) }
func (r *Ring) capPtr() *uint32  { return (*uint32)(unsafe.Pointer(&r.region[capacityOffset])) }

// Capacity returns C, the size of the data area in bytes.
func (r *Ring) Capacity() uint32 {
	return atomic.LoadUint32(r.capPtr())
}

// Usable returns the maximum number of bytes that can ever be occupied at
// once: C-1, since head==tail is reserved to mean "empty".
func (r *Ring) Usable() uint32 {
	c := r.Capacity()
	if c == 0 {
		return 0
	}
	return c - 1
}

func (r *Ring) data() []byte {
	return r.region[HeaderSize:]
}

// used returns the number of occupied data-area bytes given head/tail/C.
func used(head, tail, capacity uint32) uint32 {
	return (tail - head + capacity) % capacity
}

// Write attempts to enqueue one length-framed record. On success it returns
// len(payload); a record of length 0 is legal (a header-only record). On
// insufficient space it returns 0 and leaves the ring completely unchanged.
func (r *Ring) Write(payload []byte) int {
	capacity := r.Capacity()
	if capacity == 0 {
		return 0
	}
	usable := capacity - 1
	need := uint32(lengthPrefixSize + len(payload))
	if need > usable {
		return 0
	}

	head := atomic.LoadUint32(r.headPtr())
	tail := atomic.LoadUint32(r.tailPtr())
	if need > usable-used(head, tail, capacity) {
		return 0
	}

	data := r.data()
	var lenBuf [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	writeWrapped(data, tail, capacity, lenBuf[:])
	newTail := (tail + lengthPrefixSize) % capacity
	writeWrapped(data, newTail, capacity, payload)
	newTail = (newTail + uint32(len(payload))) % capacity

	// Release: publish the payload before the new tail is visible to the
	// reader.
	atomic.StoreUint32(r.tailPtr(), newTail)
	return len(payload)
}

// Read dequeues and returns the next record, or (nil, false) if the ring is
// empty or a complete record is not yet available.
func (r *Ring) Read() ([]byte, bool) {
	capacity := r.Capacity()
	if capacity == 0 {
		return nil, false
	}
	usable := capacity - 1

	// Acquire: observe the producer's tail before reading payload bytes it
	// guards.
	head := atomic.LoadUint32(r.headPtr())
	tail := atomic.LoadUint32(r.tailPtr())
	if head == tail {
		return nil, false
	}

	avail := used(head, tail, capacity)
	if avail < lengthPrefixSize {
		return nil, false
	}

	data := r.data()
	lenBuf := readWrapped(data, head, capacity, lengthPrefixSize)
	length := binary.LittleEndian.Uint32(lenBuf)
	if length > usable {
		// Defensive: a coherent writer never produces a frame this large;
		// treat it as "not yet" rather than trusting corrupted state.
		return nil, false
	}
	if avail < lengthPrefixSize+length {
		return nil, false
	}

	payloadStart := (head + lengthPrefixSize) % capacity
	payload := readWrapped(data, payloadStart, capacity, length)

	newHead := (head + lengthPrefixSize + length) % capacity
	atomic.StoreUint32(r.headPtr(), newHead)
	return payload, true
}

// writeWrapped writes src into data starting at logical position pos (mod
// capacity), splitting across the wrap boundary if needed.
func writeWrapped(data []byte, pos, capacity uint32, src []byte) {
	if len(src) == 0 {
		return
	}
	firstLen := capacity - pos
	if uint32(len(src)) <= firstLen {
		copy(data[pos:], src)
		return
	}
	copy(data[pos:], src[:firstLen])
	copy(data[0:], src[firstLen:])
}

// readWrapped returns a freshly-allocated copy of length bytes starting at
// logical position pos (mod capacity), reassembling across the wrap
// boundary if needed.
func readWrapped(data []byte, pos, capacity, length uint32) []byte {
	out := make([]byte, length)
	if length == 0 {
		return out
	}
	firstLen := capacity - pos
	if length <= firstLen {
		copy(out, data[pos:pos+length])
		return out
	}
	copy(out, data[pos:capacity])
	copy(out[firstLen:], data[0:length-firstLen])
	return out
}

// Stats reports the current occupancy of the ring, used for the
// Supervisor's periodic memory telemetry event.
type Stats struct {
	Used     uint32
	Capacity uint32
}

// Stats returns a point-in-time snapshot of ring occupancy. It is safe to
// call from neither the producer nor the consumer (a third, read-only
// observer), though the numbers may be stale the instant they are read.
func (r *Ring) Stats() Stats {
	capacity := r.Capacity()
	head := atomic.LoadUint32(r.headPtr())
	tail := atomic.LoadUint32(r.tailPtr())
	if capacity == 0 {
		return Stats{}
	}
	return Stats{Used: used(head, tail, capacity), Capacity: capacity}
}
