// Package testmodule holds hand-assembled guest modules for tests.
package testmodule

// Echo imports env.post_message and exports memory, alloc and on_message.
// on_message posts the received bytes straight back; alloc always returns 1024.
//
//	(module
//	  (import "env" "post_message" (func $post (param i32 i32)))
//	  (memory (export "memory") 1)
//	  (func (export "alloc") (param i32) (result i32) i32.const 1024)
//	  (func (export "on_message") (param i32 i32)
//	    local.get 0 local.get 1 call $post))
var Echo = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type: (i32 i32) -> (), (i32) -> (i32)
	0x01, 0x0b, 0x02, 0x60, 0x02, 0x7f, 0x7f, 0x00, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	// import: env.post_message, type 0
	0x02, 0x14, 0x01,
	0x03, 'e', 'n', 'v',
	0x0c, 'p', 'o', 's', 't', '_', 'm', 'e', 's', 's', 'a', 'g', 'e',
	0x00, 0x00,
	// function: alloc type 1, on_message type 0
	0x03, 0x03, 0x02, 0x01, 0x00,
	// memory: min 1 page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export
	0x07, 0x1f, 0x03,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x05, 'a', 'l', 'l', 'o', 'c', 0x00, 0x01,
	0x0a, 'o', 'n', '_', 'm', 'e', 's', 's', 'a', 'g', 'e', 0x00, 0x02,
	// code
	0x0a, 0x10, 0x02,
	0x05, 0x00, 0x41, 0x80, 0x08, 0x0b,
	0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0b,
}

// Trap has the same interface as Echo but on_message executes unreachable.
var Trap = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x0b, 0x02, 0x60, 0x02, 0x7f, 0x7f, 0x00, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x02, 0x14, 0x01,
	0x03, 'e', 'n', 'v',
	0x0c, 'p', 'o', 's', 't', '_', 'm', 'e', 's', 's', 'a', 'g', 'e',
	0x00, 0x00,
	0x03, 0x03, 0x02, 0x01, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x1f, 0x03,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x05, 'a', 'l', 'l', 'o', 'c', 0x00, 0x01,
	0x0a, 'o', 'n', '_', 'm', 'e', 's', 's', 'a', 'g', 'e', 0x00, 0x02,
	0x0a, 0x0b, 0x02,
	0x05, 0x00, 0x41, 0x80, 0x08, 0x0b,
	0x03, 0x00, 0x00, 0x0b,
}

// MemoryOnly exports a memory and nothing else.
var MemoryOnly = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x0a, 0x01,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
}

// Garbage is not a wasm binary.
var Garbage = []byte("definitely not wasm")
