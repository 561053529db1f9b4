package av

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		raw  int32
		want ErrorCode
	}{
		{0, CodeOk},
		{42, CodeOk},
		{NativeEndOfStream, CodeEndOfStream},
		{NativeOutOfMemory, CodeOutOfMemory},
		{NativeWouldBlock, CodeWouldBlock},
		{NativeDecoderNotFound, CodeDecoderNotFound},
		{NativeStreamNotFound, CodeStreamNotFound},
		{NativeInvalidData, CodeInvalidData},
		{NativeIsDirectory, CodeIsDirectory},
		{NativeNotFound, CodeNotFound},
		{NativeOutputChanged, CodeOutputChanged},
		{-1234567, CodeUnknown},
		{-1 << 31, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.raw), func(t *testing.T) {
			if got := MapError(tt.raw); got != tt.want {
				t.Errorf("MapError(%d) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestErrorCodeCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want Category
	}{
		{CodeOk, CategoryNone},
		{CodeWouldBlock, CategoryTransient},
		{CodeEndOfStream, CategoryExhausted},
		{CodeOutputChanged, CategoryExhausted},
		{CodeOutOfMemory, CategoryResourceExhaustion},
		{CodeDecoderNotFound, CategoryUnsupportedInput},
		{CodeStreamNotFound, CategoryUnsupportedInput},
		{CodeInvalidData, CategoryUnsupportedInput},
		{CodeIsDirectory, CategoryUnsupportedInput},
		{CodeNotFound, CategoryUnsupportedInput},
		{CodeUnknown, CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := tt.code.Category(); got != tt.want {
				t.Errorf("Category() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	for c := CodeOk; c <= CodeUnknown; c++ {
		if got, want := IsRetryable(c), c == CodeWouldBlock; got != want {
			t.Errorf("IsRetryable(%v) = %v, want %v", c, got, want)
		}
	}
}

func TestNativeCodeRoundTrip(t *testing.T) {
	for c := CodeEndOfStream; c < CodeUnknown; c++ {
		if got := MapError(nativeCode(c)); got != c {
			t.Errorf("MapError(nativeCode(%v)) = %v", c, got)
		}
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("reading: %w", check("read packet", NativeEndOfStream))
	if !errors.Is(err, ErrEndOfStream) {
		t.Error("wrapped EOF does not match ErrEndOfStream")
	}
	if errors.Is(err, ErrWouldBlock) {
		t.Error("EOF matches ErrWouldBlock")
	}
	if CodeOf(err) != CodeEndOfStream {
		t.Errorf("CodeOf = %v, want end of stream", CodeOf(err))
	}

	unknown := NewError("decode", -999)
	if !errors.Is(unknown, ErrUnknown) {
		t.Error("unknown code does not match ErrUnknown")
	}
	var e *Error
	if !errors.As(unknown, &e) || e.Raw != -999 {
		t.Errorf("raw code lost: %v", unknown)
	}
	if !strings.Contains(unknown.Error(), "-999") {
		t.Errorf("Error() = %q, want raw code in message", unknown.Error())
	}
}

func TestNewErrorSuccess(t *testing.T) {
	if err := NewError("op", 0); err != nil {
		t.Errorf("NewError(0) = %v, want nil", err)
	}
	if err := check("op", 17); err != nil {
		t.Errorf("check(17) = %v, want nil", err)
	}
}

func TestErrorCause(t *testing.T) {
	err := checkCause("read packet wav", nativeIOError, io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("errors.Is(%v, ErrUnexpectedEOF) = false", err)
	}
	if !errors.Is(err, ErrUnknown) {
		t.Errorf("errors.Is(%v, ErrUnknown) = false", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Err != io.ErrUnexpectedEOF || e.Raw != nativeIOError {
		t.Errorf("errors.As = %+v", e)
	}
	if !strings.HasSuffix(err.Error(), ": unexpected EOF") {
		t.Errorf("Error() = %q, want cause at the end", err.Error())
	}
	if err := checkCause("read", 0, io.ErrUnexpectedEOF); err != nil {
		t.Errorf("checkCause(0) = %v, want nil", err)
	}

	// A path below a regular file fails with ENOTDIR, kept as the cause.
	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Open(context.Background(), filepath.Join(file, "y.wav"), Options{})
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) || CodeOf(err) != CodeUnknown {
		t.Errorf("Open = %v, want a path error cause", err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := codeError("open x.wav", CodeNotFound)
	want := "av: open x.wav: no such file or directory"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCodeOfAndCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		cat  Category
	}{
		{"nil", nil, CodeOk, CategoryNone},
		{"plain", errors.New("boom"), CodeUnknown, CategoryUnknown},
		{"would block", codeError("read", CodeWouldBlock), CodeWouldBlock, CategoryTransient},
		{"conversion", fmt.Errorf("x: %w", ErrUnsupportedConversion), CodeUnknown, CategoryUnsupportedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("CodeOf = %v, want %v", got, tt.code)
			}
			if got := CategoryOf(tt.err); got != tt.cat {
				t.Errorf("CategoryOf = %v, want %v", got, tt.cat)
			}
		})
	}
}
