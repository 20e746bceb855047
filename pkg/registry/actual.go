package registry

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/frkl/viva/pkg/codec"
	"github.com/frkl/viva/pkg/engine"
)

// ActualSpecFile is the name of the file recording the last materialized spec inside an environment.
const ActualSpecFile = ".viva_env.json"

// ActualSpecPath returns the location of the actual spec file for an environment path.
func ActualSpecPath(envPath string) string {
	return filepath.Join(envPath, ActualSpecFile)
}

// ReadActualSpec returns the last materialized spec at envPath. The bool is false, with an empty
// spec, if none was recorded.
func ReadActualSpec(envPath string) (engine.EnvironmentSpec, bool, error) {
	path := ActualSpecPath(envPath)
	spec, err := codec.ReadFile[engine.EnvironmentSpec](path)
	if err != nil {
		var ioErr *engine.Error
		if errors.As(err, &ioErr) && errors.Is(ioErr.Err, fs.ErrNotExist) {
			return engine.EnvironmentSpec{}, false, nil
		}
		return engine.EnvironmentSpec{}, false, err
	}
	return spec, true, nil
}

// WriteActualSpec records spec as materialized at envPath.
func WriteActualSpec(envPath string, spec engine.EnvironmentSpec) error {
	return codec.WriteFile(ActualSpecPath(envPath), spec)
}

// removeEnvDir deletes a materialized environment directory if it exists.
func removeEnvDir(envPath string) error {
	if err := os.RemoveAll(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return engine.NewIOError("failed to remove environment directory", err).WithPath(envPath)
	}
	return nil
}
