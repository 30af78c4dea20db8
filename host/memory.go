package host

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

// guestMemory adapts api.Memory to wasmbridge.Memory.
type guestMemory struct {
	mem api.Memory
}

var _ wasmbridge.Memory = guestMemory{}

func (m guestMemory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Detail("read [%d, %d) outside memory of %d bytes", offset, uint64(offset)+uint64(length), m.mem.Size()).
			Build()
	}
	return data, nil
}

func (m guestMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.New(errors.PhaseDeliver, errors.KindOutOfBounds).
			Detail("write [%d, %d) outside memory of %d bytes", offset, uint64(offset)+uint64(len(data)), m.mem.Size()).
			Build()
	}
	return nil
}

func (m guestMemory) Size() uint32 {
	return m.mem.Size()
}

// guestAllocator calls the guest's alloc and optional dealloc exports. It
// reuses one call stack and must not be used concurrently.
type guestAllocator struct {
	ctx     context.Context
	alloc   api.Function
	dealloc api.Function
	stack   [2]uint64
}

var _ wasmbridge.Allocator = (*guestAllocator)(nil)

func (a *guestAllocator) Alloc(size uint32) (uint32, error) {
	a.stack[0] = uint64(size)
	if err := a.alloc.CallWithStack(a.ctx, a.stack[:]); err != nil {
		return 0, err
	}
	return api.DecodeU32(a.stack[0]), nil
}

// Free is a no-op for guests without a dealloc export.
func (a *guestAllocator) Free(ptr, size uint32) error {
	if a.dealloc == nil {
		return nil
	}
	a.stack[0] = uint64(ptr)
	a.stack[1] = uint64(size)
	return a.dealloc.CallWithStack(a.ctx, a.stack[:])
}
