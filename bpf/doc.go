// Package bpf is a thin bridge between Go code and the kernel's BPF facility.
//
// It opens compiled objects from memory (Open), reads the compile-time
// initial value of internal data maps (Map.ReadInitialValue), delivers
// ring buffer and perf buffer events to callbacks (NewRingBufferChannel,
// NewPerfBufferChannel) and attaches programs to cgroups through the legacy
// BPF_PROG_ATTACH path (AttachLegacy, DetachLegacy).
//
// Loading, link-based attachment and map access are left to
// github.com/cilium/ebpf. Diagnostics go through package diag.
//
// Nothing in this package starts goroutines: event channels are polled by the
// caller and callbacks run on the polling goroutine.
package bpf
