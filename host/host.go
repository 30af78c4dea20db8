package host

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/loader"
)

// DefaultSupportModule is the import module name guests use for host calls.
const DefaultSupportModule = "env"

const wasiModuleName = "wasi_snapshot_preview1"

// Guest export names.
const (
	exportMemory     = "memory"
	exportAlloc      = "alloc"
	exportDealloc    = "dealloc"
	exportOnMessage  = "on_message"
	exportInitialize = "_initialize"
)

// Config holds configuration for host creation
type Config struct {
	// SupportModule is the name of the host module providing post_message
	// and log. Empty means DefaultSupportModule.
	SupportModule string

	// CacheDir enables wazero's on-disk compilation cache when non-empty.
	CacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableWASI instantiates WASI preview1 as part of the support code.
	EnableWASI bool
}

// Host is a wazero-backed module host.
type Host struct {
	runtime     wazero.Runtime
	cache       wazero.CompilationCache
	source      Source
	logger      *zap.Logger
	compiled    map[string]wazero.CompiledModule
	callbacks   sync.Map // instance name -> func([]byte)
	group       singleflight.Group
	cfg         Config
	supportMu   sync.Mutex
	compiledMu  sync.RWMutex
	supportDone atomic.Bool
}

var _ loader.Host = (*Host)(nil)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host's logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// New creates a host that fetches modules from source.
func New(ctx context.Context, cfg *Config, source Source, opts ...Option) (*Host, error) {
	if source == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "module source is required")
	}

	h := &Host{
		source:   source,
		logger:   Logger(),
		compiled: make(map[string]wazero.CompiledModule),
	}
	if cfg != nil {
		h.cfg = *cfg
	}
	if h.cfg.SupportModule == "" {
		h.cfg.SupportModule = DefaultSupportModule
	}
	for _, opt := range opts {
		opt(h)
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if h.cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(h.cfg.MemoryLimitPages)
	}
	if h.cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(h.cfg.CacheDir)
		if err != nil {
			return nil, errors.Load("open compilation cache", err)
		}
		h.cache = cache
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	h.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return h, nil
}

// Close releases the runtime and every instance created from it.
func (h *Host) Close(ctx context.Context) error {
	err := h.runtime.Close(ctx)
	if h.cache != nil {
		if cerr := h.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// LoadSupportCode instantiates the support host module and, if configured,
// WASI. Safe for concurrent calls; only the first successful call does work.
func (h *Host) LoadSupportCode(ctx context.Context) error {
	if h.supportDone.Load() {
		return nil
	}

	h.supportMu.Lock()
	defer h.supportMu.Unlock()

	if h.supportDone.Load() {
		return nil
	}

	if h.runtime.Module(h.cfg.SupportModule) == nil {
		if err := h.instantiateSupport(ctx); err != nil {
			return errors.Load("instantiate support module "+h.cfg.SupportModule, err)
		}
	}

	if h.cfg.EnableWASI && h.runtime.Module(wasiModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, h.runtime); err != nil {
			return errors.Load("instantiate WASI", err)
		}
	}

	h.supportDone.Store(true)
	h.logger.Debug("support code loaded",
		zap.String("support_module", h.cfg.SupportModule),
		zap.Bool("wasi", h.cfg.EnableWASI))
	return nil
}

func (h *Host) instantiateSupport(ctx context.Context) error {
	i32 := api.ValueTypeI32
	_, err := h.runtime.NewHostModuleBuilder(h.cfg.SupportModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.postMessage), []api.ValueType{i32, i32}, nil).
		Export("post_message").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.guestLog), []api.ValueType{i32, i32, i32}, nil).
		Export("log").
		Instantiate(ctx)
	return err
}

// Factory compiles the module named moduleID and returns its constructor.
func (h *Host) Factory(ctx context.Context, moduleID string) (loader.Constructor, error) {
	if !h.supportDone.Load() {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Module(moduleID).
			Detail("support code not loaded").
			Build()
	}

	compiled, err := h.compile(ctx, moduleID)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, inbound func(raw []byte)) (loader.Handle, error) {
		inst, err := h.instantiate(ctx, moduleID, compiled, inbound)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}, nil
}

func (h *Host) compile(ctx context.Context, moduleID string) (wazero.CompiledModule, error) {
	h.compiledMu.RLock()
	cm, ok := h.compiled[moduleID]
	h.compiledMu.RUnlock()
	if ok {
		return cm, nil
	}

	v, err, shared := h.group.Do(moduleID, func() (any, error) {
		data, err := h.source.Fetch(ctx, moduleID)
		if err != nil {
			return nil, err
		}

		cm, err := h.runtime.CompileModule(ctx, data)
		if err != nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
				Module(moduleID).
				Detail("compile module").
				Cause(err).
				Build()
		}
		if err := validateExports(moduleID, cm); err != nil {
			_ = cm.Close(ctx)
			return nil, err
		}

		h.compiledMu.Lock()
		h.compiled[moduleID] = cm
		h.compiledMu.Unlock()
		return cm, nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.Debug("module compiled", zap.String("module", moduleID), zap.Bool("shared", shared))
	return v.(wazero.CompiledModule), nil
}

func validateExports(moduleID string, cm wazero.CompiledModule) error {
	i32 := api.ValueTypeI32
	required := []struct {
		name    string
		params  []api.ValueType
		results []api.ValueType
	}{
		{exportAlloc, []api.ValueType{i32}, []api.ValueType{i32}},
		{exportOnMessage, []api.ValueType{i32, i32}, nil},
	}

	var missing []string
	if _, ok := cm.ExportedMemories()[exportMemory]; !ok {
		missing = append(missing, exportMemory)
	}

	funcs := cm.ExportedFunctions()
	for _, r := range required {
		def, ok := funcs[r.name]
		if !ok {
			missing = append(missing, r.name)
			continue
		}
		if !sameTypes(def.ParamTypes(), r.params) || !sameTypes(def.ResultTypes(), r.results) {
			return errors.New(errors.PhaseLoad, errors.KindMissingExport).
				Module(moduleID).
				Detail("export %s has signature %v -> %v, want %v -> %v",
					r.name, def.ParamTypes(), def.ResultTypes(), r.params, r.results).
				Build()
		}
	}

	if len(missing) > 0 {
		return errors.MissingExports(moduleID, missing)
	}

	if def, ok := funcs[exportDealloc]; ok && (!sameTypes(def.ParamTypes(), []api.ValueType{i32, i32}) || len(def.ResultTypes()) != 0) {
		return errors.New(errors.PhaseLoad, errors.KindMissingExport).
			Module(moduleID).
			Detail("export %s has signature %v -> %v, want [i32 i32] -> []", exportDealloc, def.ParamTypes(), def.ResultTypes()).
			Build()
	}
	return nil
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// postMessage is the support module's post_message(ptr, len) import.
func (h *Host) postMessage(_ context.Context, mod api.Module, stack []uint64) {
	ptr, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])

	buf, err := guestMemory{mem: mod.Memory()}.Read(ptr, n)
	if err != nil {
		panic(errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Module(mod.Name()).
			Detail("post_message").
			Cause(err).
			Build())
	}
	raw := make([]byte, len(buf))
	copy(raw, buf)

	cb, ok := h.callbacks.Load(mod.Name())
	if !ok {
		h.logger.Warn("post_message from unknown instance", zap.String("instance", mod.Name()))
		return
	}
	cb.(func([]byte))(raw)
}

// guestLog is the support module's log(level, ptr, len) import.
func (h *Host) guestLog(_ context.Context, mod api.Module, stack []uint64) {
	level := api.DecodeI32(stack[0])
	ptr, n := api.DecodeU32(stack[1]), api.DecodeU32(stack[2])

	buf, err := guestMemory{mem: mod.Memory()}.Read(ptr, n)
	if err != nil {
		h.logger.Warn("guest log", zap.String("instance", mod.Name()), zap.Error(err))
		return
	}

	msg := string(buf)
	field := zap.String("instance", mod.Name())
	switch {
	case level <= 0:
		h.logger.Debug(msg, field)
	case level == 1:
		h.logger.Info(msg, field)
	case level == 2:
		h.logger.Warn(msg, field)
	default:
		h.logger.Error(msg, field)
	}
}
