package av

import (
	"errors"
	"sync"
	"sync/atomic"
)

// nativeLib is a dynamically loaded shared library. Platform specific files
// implement open, close and loaded.
type nativeLib struct {
	name    string   // base name without lib prefix or extension
	envVar  string   // full path override
	sdkVar  string   // directory override shared by bundled libraries
	bundled bool     // searched for in build/ directories
	sonames []string // system names tried last, e.g. versioned sonames
	bind    func(handle uintptr) error

	mu     sync.Mutex
	handle uintptr
	path   string
	err    error
}

var errLibraryNotFound = errors.New("native library not found")

var (
	library struct {
		mu          sync.Mutex
		initialized bool
	}

	nativeLibsMu sync.Mutex
	nativeLibs   []*nativeLib

	// Count of live native codec handles. Libraries stay mapped while it is
	// non-zero.
	nativeRefs atomic.Int64
)

// registerNativeLib adds l to the set loaded by Init.
func registerNativeLib(l *nativeLib) {
	nativeLibsMu.Lock()
	defer nativeLibsMu.Unlock()
	nativeLibs = append(nativeLibs, l)
}

func registeredLibs() []*nativeLib {
	nativeLibsMu.Lock()
	defer nativeLibsMu.Unlock()
	return append([]*nativeLib(nil), nativeLibs...)
}

// Init loads the optional native libraries. Libraries that are not installed
// are skipped; Init only fails when a library is present but unusable.
// Calling Init again after a successful call does nothing.
func Init() error {
	library.mu.Lock()
	defer library.mu.Unlock()

	if library.initialized {
		return nil
	}

	var errs []error
	for _, l := range registeredLibs() {
		if err := l.open(); err != nil && !errors.Is(err, errLibraryNotFound) {
			errs = append(errs, err)
		}
	}
	library.initialized = true
	return errors.Join(errs...)
}

// Shutdown unloads the native libraries. It fails with ErrNativeInUse while
// decoders backed by them are still open. Calling Shutdown when not
// initialized does nothing; Init may be called again afterwards.
func Shutdown() error {
	library.mu.Lock()
	defer library.mu.Unlock()

	if !library.initialized {
		return nil
	}
	if nativeRefs.Load() > 0 {
		return ErrNativeInUse
	}
	for _, l := range registeredLibs() {
		l.close()
	}
	library.initialized = false
	return nil
}

// Initialized reports whether Init has run since the last Shutdown.
func Initialized() bool {
	library.mu.Lock()
	defer library.mu.Unlock()
	return library.initialized
}

// LibraryStatus describes one optional native library.
type LibraryStatus struct {
	Name   string
	Loaded bool
	Path   string
	Err    error
}

// Libraries reports the load state of every known native library.
func Libraries() []LibraryStatus {
	libs := registeredLibs()
	out := make([]LibraryStatus, 0, len(libs))
	for _, l := range libs {
		l.mu.Lock()
		out = append(out, LibraryStatus{Name: l.name, Loaded: l.handle != 0, Path: l.path, Err: l.err})
		l.mu.Unlock()
	}
	return out
}

func acquireNative() { nativeRefs.Add(1) }
func releaseNative() { nativeRefs.Add(-1) }
