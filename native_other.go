//go:build !(darwin || linux)

package av

import "fmt"

func (l *nativeLib) open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = fmt.Errorf("lib%s: %w", l.name, errLibraryNotFound)
	return l.err
}

func (l *nativeLib) close() {}

func (l *nativeLib) loaded() bool { return false }

func nativeStrerror(raw int32) string { return "" }

// LibavVersions reports empty versions on platforms without native loading.
func LibavVersions() (avutil, avcodec string) { return "", "" }

// LibavHasDecoder always reports false on platforms without native loading.
func LibavHasDecoder(name string) bool { return false }
