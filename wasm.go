package wasmbridge

// Memory represents a guest's linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	Size() uint32
}

// Allocator allocates in guest memory through the guest's own exports
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Free(ptr, size uint32) error
}
