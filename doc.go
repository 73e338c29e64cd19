// Package pftrc records Perfetto traces of a running program and dumps them to
// disk.
//
// The idea is to mark interesting functions with trace events, typically via
// package pftrace, and then capture a session around the part of the program
// that's being investigated. A [Session] owns at most one active tracing
// session at a time. Begin starts recording into an in-memory buffer, and End
// stops recording and writes the captured trace to a file named like
//
//	perfetto-RELEASE-2024-03-01_1342.pftrace
//
// in the user's Downloads directory (Desktop on Windows). The file can be
// opened directly in https://ui.perfetto.dev.
//
// Event names are derived from the enclosing function, so a slice recorded in
// (*AudioProcessor).ProcessBlock shows up as "AudioProcessor::ProcessBlock".
// See package pfsig for how those labels are built.
//
// Session control is not synchronized. Begin and End should be called from
// one goroutine, or otherwise serialized by the caller. Emitting events is
// safe from any goroutine.
//
// Most programs can use [Default], which returns a process-wide session that
// is created on first use. Programs that want to pass the session around
// explicitly can construct their own with [NewSession].
package pftrc
