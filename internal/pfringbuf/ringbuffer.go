package pfringbuf

import (
	"sync"
)

// RingBuffer is a collection of recent items, bounded by the total size of the
// items rather than their count. When an add would exceed the limit, the
// oldest items are dropped until the new item fits.
type RingBuffer[T any] struct {
	mtx   sync.Mutex
	size  func(T) int
	limit int
	buf   []T // grown on demand, used as a ring
	cur   int // index of the oldest value
	len   int // count of actual values
	used  int // sum of size over stored values
	drops uint64
}

// NewRingBuffer returns an empty ring buffer that holds at most limit bytes,
// as measured by the size function.
func NewRingBuffer[T any](limit int, size func(T) int) *RingBuffer[T] {
	return &RingBuffer[T]{
		size:  size,
		limit: limit,
	}
}

// NewBytes returns a ring buffer of byte slices, bounded by their length.
func NewBytes(limit int) *RingBuffer[[]byte] {
	return NewRingBuffer(limit, func(b []byte) int { return len(b) })
}

// Add the value to the ring buffer, dropping older values as necessary. A
// value that is larger than the limit on its own is dropped immediately.
// Returns the number of values dropped by this add.
func (rb *RingBuffer[T]) Add(val T) (dropped int) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	sz := rb.size(val)

	// Safety first.
	if sz > rb.limit {
		rb.drops++
		return 1
	}

	// Make room by evicting from the tail.
	var zero T
	for rb.len > 0 && rb.used+sz > rb.limit {
		rb.used -= rb.size(rb.buf[rb.cur])
		rb.buf[rb.cur] = zero
		rb.cur++
		if rb.cur >= len(rb.buf) {
			rb.cur -= len(rb.buf)
		}
		rb.len--
		dropped++
	}
	rb.drops += uint64(dropped)

	// Grow the backing array when it's full, unrolling the ring so that the
	// oldest value ends up at index zero.
	if rb.len >= len(rb.buf) {
		n := 2 * len(rb.buf)
		if n < 16 {
			n = 16
		}
		buf := make([]T, n)
		for i := 0; i < rb.len; i++ {
			buf[i] = rb.buf[(rb.cur+i)%len(rb.buf)]
		}
		rb.buf = buf
		rb.cur = 0
	}

	// Write the value at the head.
	head := rb.cur + rb.len
	if head >= len(rb.buf) {
		head -= len(rb.buf)
	}
	rb.buf[head] = val
	rb.len++
	rb.used += sz

	return dropped
}

// Walk calls the given function for each value in the ring buffer, starting
// with the oldest value, and ending with the most recent value. Walk takes an
// exclusive lock on the ring buffer, which blocks other calls like Add.
func (rb *RingBuffer[T]) Walk(fn func(T) error) error {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	for i := 0; i < rb.len; i++ {
		cur := rb.cur + i
		if cur >= len(rb.buf) {
			cur -= len(rb.buf)
		}
		if err := fn(rb.buf[cur]); err != nil {
			return err
		}
	}

	return nil
}

// Stats returns the number of values stored, their total size, and the number
// of values dropped over the life of the ring buffer.
func (rb *RingBuffer[T]) Stats() (count, used int, drops uint64) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()
	return rb.len, rb.used, rb.drops
}

// Limit returns the size limit of the ring buffer.
func (rb *RingBuffer[T]) Limit() int {
	return rb.limit
}

// Reset drops all values and zeroes the drop counter.
func (rb *RingBuffer[T]) Reset() {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()
	rb.buf = nil
	rb.cur, rb.len, rb.used, rb.drops = 0, 0, 0, 0
}
