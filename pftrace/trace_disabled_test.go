//go:build !perfetto

package pftrace_test

import (
	"testing"

	"github.com/melatonin-dev/pftrc/pftrace"
)

func TestDisabled(t *testing.T) {
	if pftrace.Enabled {
		t.Fatal("emission should be disabled without the perfetto tag")
	}

	if have := pftrace.Label(0); have != "" {
		t.Errorf("Label: want empty, have %q", have)
	}

	track := pftrace.NewTrack("worker")

	allocs := testing.AllocsPerRun(100, func() {
		track.DSP()()
		track.Instant("component", "paint")
		pftrace.DSP()()
		pftrace.Component()()
		pftrace.Event("dsp", "process")()
		pftrace.Instant("component", "paint")
	})
	if allocs != 0 {
		t.Errorf("want no allocations, have %v", allocs)
	}
}
