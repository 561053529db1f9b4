package av

import (
	"context"
	"errors"
	"io"
	"sync"
)

// nativeIOError is the result for failed reads. It maps to Unknown with the
// raw value kept.
const nativeIOError = -errnoEIO

const readChunkSize = 32 * 1024

// chunk is one read result handed from the reader goroutine.
type chunk struct {
	data []byte
	err  error
}

// byteSource is a peekable input. peek never consumes input, discard commits
// it, so a parser that stops on WouldBlock can retry the same unit later.
//
// Files are read directly. Streams (pipes, sockets) are read by a goroutine
// that hands chunks over a channel; in non-blocking mode peek returns
// WouldBlock when no chunk is ready.
type byteSource struct {
	r      io.Reader
	seeker io.Seeker
	closer io.Closer

	chunks chan chunk
	done   chan struct{}
	ctx    context.Context

	buf   []byte
	start int64 // input offset of buf[0]
	eof   bool
	err   error // cause of the last nativeIOError
	size  int64 // -1 when unknown

	nonBlock  bool
	closeOnce sync.Once
}

// newFileSource reads r directly. seeker may be nil.
func newFileSource(r io.Reader, seeker io.Seeker, closer io.Closer, size int64) *byteSource {
	return &byteSource{r: r, seeker: seeker, closer: closer, size: size, ctx: context.Background()}
}

// newStreamSource starts a reader goroutine on r. It stops when r returns an
// error or the source is closed.
func newStreamSource(ctx context.Context, r io.Reader, closer io.Closer) *byteSource {
	s := &byteSource{
		closer: closer,
		chunks: make(chan chunk, 16),
		done:   make(chan struct{}),
		ctx:    ctx,
		size:   -1,
	}
	go s.readLoop(r)
	return s
}

func (s *byteSource) readLoop(r io.Reader) {
	defer close(s.chunks)
	for {
		buf := make([]byte, readChunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- chunk{data: buf[:n]}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case s.chunks <- chunk{err: err}:
			case <-s.done:
			}
			return
		}
	}
}

func (s *byteSource) seekable() bool { return s.seeker != nil }

// pos returns the input offset of the next unconsumed byte.
func (s *byteSource) pos() int64 { return s.start }

// peek returns the next n bytes. At end of input it returns what is left
// together with NativeEndOfStream.
func (s *byteSource) peek(n int) ([]byte, int32) {
	for len(s.buf) < n && !s.eof {
		if ret := s.fill(n - len(s.buf)); ret < 0 {
			return nil, ret
		}
	}
	if len(s.buf) < n {
		return s.buf, NativeEndOfStream
	}
	return s.buf[:n], 0
}

func (s *byteSource) fill(want int) int32 {
	if s.chunks == nil {
		if want < readChunkSize {
			want = readChunkSize
		}
		off := len(s.buf)
		s.buf = append(s.buf, make([]byte, want)...)
		n, err := s.r.Read(s.buf[off:])
		s.buf = s.buf[:off+n]
		switch {
		case errors.Is(err, io.EOF):
			s.eof = true
		case err != nil:
			s.err = err
			return nativeIOError
		}
		return 0
	}

	var c chunk
	var ok bool
	if s.nonBlock {
		select {
		case c, ok = <-s.chunks:
		default:
			return NativeWouldBlock
		}
	} else {
		select {
		case c, ok = <-s.chunks:
		case <-s.ctx.Done():
			s.err = s.ctx.Err()
			return nativeIOError
		}
	}

	switch {
	case !ok, errors.Is(c.err, io.EOF):
		s.eof = true
	case c.err != nil:
		s.err = c.err
		s.eof = true
		return nativeIOError
	default:
		s.buf = append(s.buf, c.data...)
	}
	return 0
}

// discard consumes n peeked bytes.
func (s *byteSource) discard(n int) {
	if n > len(s.buf) {
		n = len(s.buf)
	}
	s.buf = s.buf[n:]
	s.start += int64(n)
	if len(s.buf) == 0 {
		s.buf = nil
	}
}

// read returns and consumes the next n bytes.
func (s *byteSource) read(n int) ([]byte, int32) {
	b, ret := s.peek(n)
	if ret < 0 {
		return nil, ret
	}
	out := append([]byte(nil), b...)
	s.discard(n)
	return out, 0
}

// skip consumes n bytes without keeping them.
func (s *byteSource) skip(n int64) int32 {
	for n > 0 {
		step := int(min(n, readChunkSize))
		b, ret := s.peek(step)
		if ret == NativeEndOfStream && len(b) > 0 {
			step, ret = len(b), 0
		}
		if ret < 0 {
			return ret
		}
		s.discard(step)
		n -= int64(step)
	}
	return 0
}

// seek repositions the source at an absolute offset.
func (s *byteSource) seek(off int64) int32 {
	if off >= s.start && off <= s.start+int64(len(s.buf)) {
		s.discard(int(off - s.start))
		return 0
	}
	if s.seeker == nil {
		return NativeInvalidData
	}
	if _, err := s.seeker.Seek(off, io.SeekStart); err != nil {
		s.err = err
		return nativeIOError
	}
	s.buf = nil
	s.start = off
	s.eof = false
	return 0
}

func (s *byteSource) close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.done != nil {
			close(s.done)
		}
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// sourceReader exposes a byteSource as an io.Reader for parsers that pull
// their input. Callers peek a complete unit first so that Read never has to
// wait in non-blocking mode.
type sourceReader struct {
	src *byteSource
}

// sourceError carries a native result through an io.Reader.
type sourceError struct {
	ret int32
}

func (e *sourceError) Error() string { return MapError(e.ret).String() }

func (r *sourceReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, ret := r.src.peek(len(p))
	switch {
	case ret == NativeEndOfStream && len(b) == 0:
		return 0, io.EOF
	case ret < 0 && ret != NativeEndOfStream:
		return 0, &sourceError{ret: ret}
	}
	n := copy(p, b)
	r.src.discard(n)
	return n, nil
}

// readerResult converts an error from a pull parser into a native result.
// Truncated input is reported as invalid data.
func readerResult(err error) int32 {
	var se *sourceError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &se):
		return se.ret
	case errors.Is(err, io.EOF):
		return NativeEndOfStream
	}
	return NativeInvalidData
}
