// Package pftrace emits trace events from instrumented code.
//
// Instrument a function by deferring the returned end func:
//
//	func (p *Processor) processBlock(buf []float32) {
//		defer pftrace.DSP("frames", len(buf))()
//		...
//	}
//
// The slice is named after the calling function, normalized to a
// "Type::method" label, and recorded in the dsp category. Trailing arguments
// are key/value annotations.
//
// Emission is compiled in only with the perfetto build tag. Without it every
// function is an empty stub, and the package imports nothing else from this
// module, so instrumented code carries no tracing cost.
package pftrace
