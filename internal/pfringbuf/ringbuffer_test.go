package pfringbuf

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func assertEqual[T any](t *testing.T, have, want T) {
	t.Helper()
	if !cmp.Equal(have, want) {
		t.Fatal(cmp.Diff(have, want))
	}
}

func TestRingBuffer(t *testing.T) {
	t.Parallel()

	rb := NewRingBuffer(10, func(s string) int { return len(s) })

	all := func() []string {
		res := []string{}
		rb.Walk(func(s string) error {
			res = append(res, s)
			return nil
		})
		return res
	}

	assertEqual(t, all(), []string{})

	assertEqual(t, rb.Add("aaa"), 0)
	assertEqual(t, rb.Add("bbb"), 0)
	assertEqual(t, rb.Add("ccc"), 0)
	assertEqual(t, all(), []string{"aaa", "bbb", "ccc"})

	// 9 used, adding 2 needs one eviction.
	assertEqual(t, rb.Add("dd"), 1)
	assertEqual(t, all(), []string{"bbb", "ccc", "dd"})

	// Adding 10 evicts everything.
	assertEqual(t, rb.Add("eeeeeeeeee"), 3)
	assertEqual(t, all(), []string{"eeeeeeeeee"})

	// Too big on its own.
	assertEqual(t, rb.Add("fffffffffff"), 1)
	assertEqual(t, all(), []string{"eeeeeeeeee"})

	count, used, drops := rb.Stats()
	assertEqual(t, count, 1)
	assertEqual(t, used, 10)
	assertEqual(t, drops, uint64(5))

	rb.Reset()
	assertEqual(t, all(), []string{})
	count, used, drops = rb.Stats()
	assertEqual(t, count, 0)
	assertEqual(t, used, 0)
	assertEqual(t, drops, uint64(0))
}

func TestRingBufferGrowWrapped(t *testing.T) {
	t.Parallel()

	rb := NewBytes(20)

	// Large values first, so that small values evict them one by one. The
	// ring wraps before the backing array has to grow.
	for i := 0; i < 4; i++ {
		rb.Add([]byte("XXXXX"))
	}
	var want []string
	for i := 0; i < 30; i++ {
		s := string(rune('a' + i%26))
		rb.Add([]byte(s))
		want = append(want, s)
	}
	want = want[len(want)-20:]

	var have []string
	rb.Walk(func(b []byte) error {
		have = append(have, string(b))
		return nil
	})
	assertEqual(t, have, want)
	assertEqual(t, rb.Limit(), 20)
}

func TestRingBufferWalkError(t *testing.T) {
	t.Parallel()

	rb := NewBytes(100)
	for _, s := range strings.Fields("a b c d") {
		rb.Add([]byte(s))
	}

	var (
		stop = errors.New("stop")
		seen []string
	)
	err := rb.Walk(func(b []byte) error {
		seen = append(seen, string(b))
		if len(seen) == 2 {
			return stop
		}
		return nil
	})
	assertEqual(t, errors.Is(err, stop), true)
	assertEqual(t, seen, []string{"a", "b"})
}

func TestRingBufferConcurrent(t *testing.T) {
	t.Parallel()

	rb := NewBytes(1024)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rb.Add([]byte("12345678"))
			}
		}()
	}
	wg.Wait()

	count, used, drops := rb.Stats()
	assertEqual(t, count, 128)
	assertEqual(t, used, 1024)
	assertEqual(t, drops, uint64(8*1000-128))
}

func BenchmarkRingBufferAdd(b *testing.B) {
	rb := NewBytes(1 << 20)
	val := make([]byte, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rb.Add(val)
	}
}
