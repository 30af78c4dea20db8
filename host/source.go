package host

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyai/wasm-bridge/errors"
)

// Source fetches module bytes by identifier.
type Source interface {
	Fetch(ctx context.Context, moduleID string) ([]byte, error)
}

// DirSource reads <dir>/<moduleID>.wasm.
type DirSource string

// Fetch implements Source.
func (d DirSource) Fetch(ctx context.Context, moduleID string) ([]byte, error) {
	if err := validateID(moduleID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(errors.PhaseLoad, err)
	}

	path := filepath.Join(string(d), moduleID+".wasm")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFound(errors.PhaseLoad, "module file", path)
	}
	if err != nil {
		return nil, errors.Load("read module "+path, err)
	}
	return data, nil
}

// MapSource serves modules from memory.
type MapSource map[string][]byte

// Fetch implements Source.
func (m MapSource) Fetch(_ context.Context, moduleID string) ([]byte, error) {
	data, ok := m[moduleID]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "module", moduleID)
	}
	return data, nil
}

func validateID(moduleID string) error {
	if moduleID == "" {
		return errors.InvalidInput(errors.PhaseLoad, "module id cannot be empty")
	}
	if strings.ContainsAny(moduleID, `/\`) || moduleID == "." || moduleID == ".." {
		return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Module(moduleID).
			Detail("module id must be a plain name").
			Build()
	}
	return nil
}
