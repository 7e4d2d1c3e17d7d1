// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package udf

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"
)

// LibraryPathEnv is the colon-separated list of directories searched for
// dynamic-library and scripted UDFs.
const LibraryPathEnv = "UDF_LIBRARY_PATH"

// InitSymbol is the symbol a UDF dynamic library must export:
// func(udf.Config) (interface{}, error) returning a NativeUdf or RawUdf.
const InitSymbol = "InitializeUDF"

// LoadError indicates a UDF name could not be resolved to a working
// implementation.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load UDF %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NotUdfError indicates a factory returned an object satisfying neither
// UDF contract.
type NotUdfError struct {
	Name string
}

func (e *NotUdfError) Error() string {
	return fmt.Sprintf("UDF %q implements neither RawUdf nor NativeUdf", e.Name)
}

// Factory constructs a UDF instance from its config. The result must
// satisfy RawUdf or NativeUdf.
type Factory func(config Config) (interface{}, error)

//nolint:gochecknoglobals // process-wide UDF registry, like database/sql drivers
var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a statically linked UDF to the in-process registry.
// Typically called from a UDF package's init(). Re-registering a name
// panics.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("udf: Register called twice for %q", name))
	}

	registry[name] = factory
}

// registered looks a name up in the registry.
func registered(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[name]

	return f, ok
}

// Loader resolves UDF names to handles.
//
// Resolution order is fixed: the in-process registry first, then a
// dynamic library lib<name>.so along UDF_LIBRARY_PATH, then a scripted
// module <name>.star along the same path (dots in the name become
// directory separators). An instance from the registry or a library is
// discriminated Raw first, Native second.
type Loader struct{}

// NewLoader returns a UDF loader.
func NewLoader() *Loader {
	return &Loader{}
}

// searchPath returns the directories named by UDF_LIBRARY_PATH.
func searchPath() []string {
	var dirs []string

	for _, dir := range strings.Split(os.Getenv(LibraryPathEnv), ":") {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}

	return dirs
}

// findFile returns the first existing file named base in the search
// path, or "".
func findFile(base string) string {
	for _, dir := range searchPath() {
		path := filepath.Join(dir, base)

		if _, err := os.Stat(path); err == nil {
			log.Debug().Str(lPath, path).Msg("resolved UDF file")

			return path
		}
	}

	return ""
}

// wrap discriminates a UDF instance and builds the matching handle.
// Raw is attempted first so multi-plane-aware UDFs are never narrowed
// to the single-plane view.
func wrap(name string, instance interface{}) (Handle, error) {
	if raw, ok := instance.(RawUdf); ok {
		return newRawHandle(name, raw), nil
	}

	if native, ok := instance.(NativeUdf); ok {
		return newNativeHandle(name, native), nil
	}

	return nil, &NotUdfError{name}
}

// loadLibrary opens a UDF dynamic library and runs its factory symbol.
func loadLibrary(name, path string, config Config) (Handle, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open UDF library: %w", err)
	}

	sym, err := p.Lookup(InitSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s symbol: %w", InitSymbol, err)
	}

	var factory Factory

	switch fn := sym.(type) {
	case func(Config) (interface{}, error):
		factory = fn
	case func(map[string]interface{}) (interface{}, error):
		factory = func(c Config) (interface{}, error) { return fn(c) }
	default:
		return nil, fmt.Errorf("%s has wrong type %T", InitSymbol, sym)
	}

	instance, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize UDF: %w", err)
	}

	return wrap(name, instance)
}

// Load resolves a UDF name, constructs its handle, and initializes it
// with the given config. A failure at any step yields a nil handle.
func (l *Loader) Load(name string, config Config) (Handle, error) {
	handle, err := l.resolve(name, config)
	if err != nil {
		return nil, err
	}

	if err := handle.Initialize(config); err != nil {
		handle.Close()

		return nil, &LoadError{Name: name, Err: err}
	}

	log.Info().Str(lUDF, name).Msg("UDF loaded")

	return handle, nil
}

func (l *Loader) resolve(name string, config Config) (Handle, error) {
	if factory, ok := registered(name); ok {
		instance, err := factory(config)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}

		handle, err := wrap(name, instance)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}

		return handle, nil
	}

	if path := findFile("lib" + name + ".so"); path != "" {
		handle, err := loadLibrary(name, path, config)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}

		return handle, nil
	}

	// Anything else is a scripted module path.
	scriptBase := strings.ReplaceAll(name, ".", string(filepath.Separator)) + scriptExt
	if path := findFile(scriptBase); path != "" {
		handle, err := newScriptedHandle(name, path)
		if err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}

		return handle, nil
	}

	return nil, &LoadError{
		Name: name,
		Err:  fmt.Errorf("no library or scripted module found along $%s", LibraryPathEnv),
	}
}
