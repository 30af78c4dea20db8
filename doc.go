// Package wasmbridge connects callers to WebAssembly modules that are loaded
// asynchronously, exchanging {type, data} messages in strict order.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmbridge/          Root package with guest Memory and Allocator interfaces
//	├── mailbox/         Ordered outbound buffer and inbound type dispatch
//	├── loader/          Asynchronous module load state machine
//	├── host/            wazero host: support module, compile cache, instances
//	├── bridge/          Mailbox + loader on one cooperative loop
//	├── handoff/         Blocking FIFO of connection descriptors
//	├── server/          Acceptor, worker pool and per-connection bridges
//	├── config/          viper-backed configuration
//	├── errors/          Structured error types for debugging
//	└── cmd/bridge/      wasm-bridge command
//
// # Quick Start
//
// Load a module and exchange messages with it:
//
//	h, err := host.New(ctx, nil, host.DirSource("./modules"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close(ctx)
//
//	b := bridge.New(h, "reader")
//	b.Subscribe("status", func(env mailbox.Envelope) {
//	    fmt.Println(env.Data)
//	})
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close(ctx)
//
//	// Queued until the module is ready, then delivered in order.
//	b.Send("list-readers", nil)
//
// # Guest ABI
//
// A guest module imports env.post_message(ptr, len) and env.log(level, ptr,
// len), and exports memory, alloc(len) -> ptr and on_message(ptr, len).
// dealloc(ptr, len) and _initialize are optional. Messages in both
// directions are UTF-8 JSON objects {"type": string, "data": object}.
//
// # Ordering
//
// Every message sent through a bridge reaches the module exactly in send
// order, including messages sent before the module finished loading. Any
// load failure, malformed inbound message or failed delivery disposes the
// bridge; later sends are dropped.
package wasmbridge
