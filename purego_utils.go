//go:build darwin || linux

// Shared utilities for purego-based native bindings.

package av

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

func (l *nativeLib) open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle != 0 {
		return nil
	}

	var lastErr error
	found := false
	for _, path := range l.searchPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			continue
		}
		found = true
		if err := l.bind(handle); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		l.handle = handle
		l.path = path
		l.err = nil
		return nil
	}

	if !found {
		l.err = fmt.Errorf("lib%s: %w", l.name, errLibraryNotFound)
	} else {
		l.err = fmt.Errorf("lib%s: %w", l.name, lastErr)
	}
	return l.err
}

func (l *nativeLib) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handle != 0 {
		purego.Dlclose(l.handle)
		l.handle = 0
		l.path = ""
	}
}

func (l *nativeLib) loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != 0
}

func (l *nativeLib) searchPaths() []string {
	var paths []string

	libName := "lib" + l.name + ".so"
	if runtime.GOOS == "darwin" {
		libName = "lib" + l.name + ".dylib"
	}

	// Environment variable overrides (highest priority)
	if l.envVar != "" {
		if envPath := os.Getenv(l.envVar); envPath != "" {
			paths = append(paths, envPath)
		}
	}
	if l.sdkVar != "" {
		if envPath := os.Getenv(l.sdkVar); envPath != "" {
			paths = append(paths, filepath.Join(envPath, libName))
		}
	}

	if l.bundled {
		// Search relative to executable location
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			paths = append(paths,
				filepath.Join(exeDir, libName),
				filepath.Join(exeDir, "..", "lib", libName),
				filepath.Join(exeDir, "..", "..", "build", libName),
			)
		}

		// Search relative to working directory
		if wd, err := os.Getwd(); err == nil {
			paths = append(paths,
				filepath.Join(wd, "build", libName),
				filepath.Join(wd, "..", "build", libName),
				filepath.Join(wd, "..", "..", "build", libName),
			)
		}

		// Search relative to module root (find go.mod from cwd)
		if moduleRoot := findModuleRoot(); moduleRoot != "" {
			paths = append(paths, filepath.Join(moduleRoot, "build", libName))
		}
	}

	// System paths (lowest priority)
	paths = append(paths, l.sonames...)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}

	return paths
}

// bindFunc registers fptr against a symbol, failing instead of panicking when
// the symbol is missing.
func bindFunc(fptr any, handle uintptr, name string) error {
	sym, err := purego.Dlsym(handle, name)
	if err != nil {
		return fmt.Errorf("symbol %s: %w", name, err)
	}
	purego.RegisterFunc(fptr, sym)
	return nil
}

// bindFuncs registers a symbol table in order and stops at the first error.
func bindFuncs(handle uintptr, table []symbol) error {
	for _, s := range table {
		if err := bindFunc(s.fptr, handle, s.name); err != nil {
			return err
		}
	}
	return nil
}

type symbol struct {
	fptr any
	name string
}

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	// Find string length
	p := unsafe.Pointer(ptr)
	var length int
	for {
		if *(*byte)(unsafe.Add(p, length)) == 0 {
			break
		}
		length++
		if length > 1024 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// findModuleRoot walks up the directory tree from the current working directory
// to find the module root (directory containing go.mod).
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
