package host

import (
	"context"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/loader"
	"github.com/wippyai/wasm-bridge/mailbox"
)

// Instance is a running guest module. It implements loader.Handle.
type Instance struct {
	ctx       context.Context
	cancel    context.CancelFunc
	host      *Host
	module    api.Module
	memory    guestMemory
	alloc     *guestAllocator
	onMessage api.Function
	moduleID  string
	name      string
}

var _ loader.Handle = (*Instance)(nil)

func (h *Host) instantiate(ctx context.Context, moduleID string, compiled wazero.CompiledModule, inbound func(raw []byte)) (*Instance, error) {
	name := moduleID + "-" + uuid.NewString()

	// Registered before instantiation so _initialize can already post.
	h.callbacks.Store(name, inbound)

	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions(exportInitialize)

	mod, err := h.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		h.callbacks.Delete(name)
		return nil, errors.Instantiation(moduleID, err)
	}

	instCtx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		ctx:       instCtx,
		cancel:    cancel,
		host:      h,
		module:    mod,
		memory:    guestMemory{mem: mod.Memory()},
		onMessage: mod.ExportedFunction(exportOnMessage),
		moduleID:  moduleID,
		name:      name,
	}
	inst.alloc = &guestAllocator{
		ctx:     instCtx,
		alloc:   mod.ExportedFunction(exportAlloc),
		dealloc: mod.ExportedFunction(exportDealloc),
	}

	h.logger.Debug("module instantiated", zap.String("module", moduleID), zap.String("instance", name))
	return inst, nil
}

// Name returns the unique instance name inside the runtime.
func (i *Instance) Name() string {
	return i.name
}

// PostMessage encodes env, copies it into guest memory and calls on_message.
func (i *Instance) PostMessage(env mailbox.Envelope) error {
	raw, err := mailbox.Encode(env)
	if err != nil {
		return err
	}

	ptr, err := i.alloc.Alloc(uint32(len(raw)))
	if err != nil {
		return errors.New(errors.PhaseDeliver, errors.KindTrap).
			Module(i.moduleID).
			Type(env.Type).
			Detail("alloc %d bytes", len(raw)).
			Cause(err).
			Build()
	}

	if err := i.memory.Write(ptr, raw); err != nil {
		return errors.New(errors.PhaseDeliver, errors.KindOutOfBounds).
			Module(i.moduleID).
			Type(env.Type).
			Detail("alloc returned %d", ptr).
			Cause(err).
			Build()
	}

	if _, err := i.onMessage.Call(i.ctx, uint64(ptr), uint64(len(raw))); err != nil {
		return errors.New(errors.PhaseDeliver, errors.KindTrap).
			Module(i.moduleID).
			Type(env.Type).
			Detail("on_message").
			Cause(err).
			Build()
	}

	if err := i.alloc.Free(ptr, uint32(len(raw))); err != nil {
		return errors.New(errors.PhaseDeliver, errors.KindTrap).
			Module(i.moduleID).
			Type(env.Type).
			Detail("dealloc").
			Cause(err).
			Build()
	}
	return nil
}

// Close stops the instance. In-flight guest calls are interrupted.
func (i *Instance) Close(ctx context.Context) error {
	i.host.callbacks.Delete(i.name)
	i.cancel()
	return i.module.Close(ctx)
}
