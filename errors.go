package av

import (
	"errors"
	"fmt"
)

// Native result codes. Every backend returns an int32 where values >= 0 mean
// success and negative values carry one of these codes.
const (
	NativeEndOfStream     int32 = -('E' | 'O'<<8 | 'F'<<16 | ' '<<24)
	NativeDecoderNotFound int32 = -(0xF8 | 'D'<<8 | 'E'<<16 | 'C'<<24)
	NativeStreamNotFound  int32 = -(0xF8 | 'S'<<8 | 'T'<<16 | 'R'<<24)
	NativeInvalidData     int32 = -('I' | 'N'<<8 | 'D'<<16 | 'A'<<24)
	NativeOutputChanged   int32 = -0x636e6702

	NativeOutOfMemory = -errnoENOMEM
	NativeWouldBlock  = -errnoEAGAIN
	NativeIsDirectory = -errnoEISDIR
	NativeNotFound    = -errnoENOENT
)

// ErrorCode is the closed set of failure kinds a native result maps to.
type ErrorCode uint8

const (
	CodeOk ErrorCode = iota
	CodeEndOfStream
	CodeOutOfMemory
	CodeWouldBlock
	CodeDecoderNotFound
	CodeStreamNotFound
	CodeInvalidData
	CodeIsDirectory
	CodeNotFound
	CodeOutputChanged
	CodeUnknown
)

func (c ErrorCode) String() string {
	switch c {
	case CodeOk:
		return "ok"
	case CodeEndOfStream:
		return "end of stream"
	case CodeOutOfMemory:
		return "out of memory"
	case CodeWouldBlock:
		return "would block"
	case CodeDecoderNotFound:
		return "decoder not found"
	case CodeStreamNotFound:
		return "stream not found"
	case CodeInvalidData:
		return "invalid data"
	case CodeIsDirectory:
		return "is a directory"
	case CodeNotFound:
		return "no such file or directory"
	case CodeOutputChanged:
		return "output changed"
	default:
		return "unknown error"
	}
}

// Category groups error codes by how callers are expected to react.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryTransient
	CategoryExhausted
	CategoryResourceExhaustion
	CategoryUnsupportedInput
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryTransient:
		return "transient"
	case CategoryExhausted:
		return "exhausted"
	case CategoryResourceExhaustion:
		return "resource exhaustion"
	case CategoryUnsupportedInput:
		return "unsupported input"
	default:
		return "unknown"
	}
}

// Category returns the category the code belongs to.
func (c ErrorCode) Category() Category {
	switch c {
	case CodeOk:
		return CategoryNone
	case CodeWouldBlock:
		return CategoryTransient
	case CodeEndOfStream, CodeOutputChanged:
		return CategoryExhausted
	case CodeOutOfMemory:
		return CategoryResourceExhaustion
	case CodeDecoderNotFound, CodeStreamNotFound, CodeInvalidData, CodeIsDirectory, CodeNotFound:
		return CategoryUnsupportedInput
	default:
		return CategoryUnknown
	}
}

// MapError converts a raw native result into an ErrorCode. Zero and positive
// values are success; no negative value maps to CodeOk.
func MapError(raw int32) ErrorCode {
	if raw >= 0 {
		return CodeOk
	}
	switch raw {
	case NativeEndOfStream:
		return CodeEndOfStream
	case NativeOutOfMemory:
		return CodeOutOfMemory
	case NativeWouldBlock:
		return CodeWouldBlock
	case NativeDecoderNotFound:
		return CodeDecoderNotFound
	case NativeStreamNotFound:
		return CodeStreamNotFound
	case NativeInvalidData:
		return CodeInvalidData
	case NativeIsDirectory:
		return CodeIsDirectory
	case NativeNotFound:
		return CodeNotFound
	case NativeOutputChanged:
		return CodeOutputChanged
	default:
		return CodeUnknown
	}
}

// IsRetryable reports whether the same operation may succeed if repeated
// later. Only CodeWouldBlock is retryable.
func IsRetryable(code ErrorCode) bool {
	return code == CodeWouldBlock
}

// Error is a failed native operation. Raw keeps the original code so unknown
// values are never lost. Err is the Go error behind the result, if any, such
// as the OS error of a failed read.
type Error struct {
	Op   string
	Code ErrorCode
	Raw  int32
	Err  error
}

func (e *Error) Error() string {
	msg := nativeStrerror(e.Raw)
	if msg == "" || e.Code != CodeUnknown {
		msg = e.Code.String()
	}
	if e.Code == CodeUnknown {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Raw)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op == "" {
		return "av: " + msg
	}
	return "av: " + e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by code. A sentinel with a non-zero Raw also
// requires the raw value to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Raw == 0 || t.Raw == e.Raw)
}

// Sentinels for errors.Is.
var (
	ErrEndOfStream     = &Error{Code: CodeEndOfStream}
	ErrOutOfMemory     = &Error{Code: CodeOutOfMemory}
	ErrWouldBlock      = &Error{Code: CodeWouldBlock}
	ErrDecoderNotFound = &Error{Code: CodeDecoderNotFound}
	ErrStreamNotFound  = &Error{Code: CodeStreamNotFound}
	ErrInvalidData     = &Error{Code: CodeInvalidData}
	ErrIsDirectory     = &Error{Code: CodeIsDirectory}
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrOutputChanged   = &Error{Code: CodeOutputChanged}
	ErrUnknown         = &Error{Code: CodeUnknown}
)

// Errors that do not originate from a native result.
var (
	ErrUnsupportedConversion = errors.New("av: unsupported conversion")
	ErrClosed                = errors.New("av: use of closed handle")
	ErrNotSeekable           = errors.New("av: source is not seekable")
	ErrNativeInUse           = errors.New("av: native handles still open")
)

// NewError wraps a raw native result. It returns nil for success values.
func NewError(op string, raw int32) error {
	if raw >= 0 {
		return nil
	}
	return &Error{Op: op, Code: MapError(raw), Raw: raw}
}

// check is the single point where backend results are interpreted.
func check(op string, ret int32) error {
	return NewError(op, ret)
}

// checkCause is check for results caused by a Go error.
func checkCause(op string, ret int32, cause error) error {
	if ret >= 0 {
		return nil
	}
	return &Error{Op: op, Code: MapError(ret), Raw: ret, Err: cause}
}

// codeError builds an error from a code. The raw value is the canonical native
// code for the kind.
func codeError(op string, code ErrorCode) error {
	return &Error{Op: op, Code: code, Raw: nativeCode(code)}
}

func nativeCode(code ErrorCode) int32 {
	switch code {
	case CodeEndOfStream:
		return NativeEndOfStream
	case CodeOutOfMemory:
		return NativeOutOfMemory
	case CodeWouldBlock:
		return NativeWouldBlock
	case CodeDecoderNotFound:
		return NativeDecoderNotFound
	case CodeStreamNotFound:
		return NativeStreamNotFound
	case CodeInvalidData:
		return NativeInvalidData
	case CodeIsDirectory:
		return NativeIsDirectory
	case CodeNotFound:
		return NativeNotFound
	case CodeOutputChanged:
		return NativeOutputChanged
	case CodeOk:
		return 0
	default:
		return -1
	}
}

// CodeOf extracts the ErrorCode from err. Nil is CodeOk; errors that carry
// no native code are CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOk
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// CategoryOf classifies any error returned by this package.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryNone
	}
	if errors.Is(err, ErrUnsupportedConversion) {
		return CategoryUnsupportedInput
	}
	return CodeOf(err).Category()
}
