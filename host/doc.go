// Package host implements the module host collaborator on top of wazero.
//
// A Host owns one wazero runtime. Loading happens in three steps that map onto
// loader.Host:
//
//  1. LoadSupportCode instantiates the support host module (named "env" by
//     default) and, when enabled, WASI preview1. This runs once per Host.
//  2. Factory fetches the module bytes for an identifier from a Source,
//     compiles them (concurrent requests for the same identifier share one
//     compilation), validates the guest ABI and returns a constructor.
//  3. The constructor instantiates the compiled module under a unique name
//     and wires the inbound callback.
//
// # Guest ABI
//
// A guest module must export:
//
//	memory                          linear memory
//	alloc(len i32) -> i32           reserve len bytes, return the offset
//	on_message(ptr i32, len i32)    receive one encoded envelope
//
// and may export:
//
//	dealloc(ptr i32, len i32)       release a buffer returned by alloc
//	_initialize()                   called once after instantiation
//
// The support module provides these imports:
//
//	env.post_message(ptr i32, len i32)       send an encoded envelope to the host
//	env.log(level i32, ptr i32, len i32)     write a UTF-8 line to the host log
//
// Envelopes are JSON objects of the form {"type": "...", "data": {...}}.
//
// # Thread Safety
//
// Host is safe for concurrent use. Instance is NOT thread-safe and should be
// used by a single goroutine, which is how the bridge package drives it.
package host
