package av

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// input is a resolved locator: either a byte source with a container format
// to probe, or a demuxer that produces packets itself.
type input struct {
	src    *byteSource
	dmx    demuxer
	format string
	ext    string
}

// srtLatency is the SRT receive latency in nanoseconds (120ms).
const srtLatency = 120_000_000

func openLocator(ctx context.Context, locator string, opts Options) (*input, error) {
	u, err := url.Parse(locator)
	if err != nil || len(u.Scheme) <= 1 {
		// Plain paths, including Windows drive letters.
		return openFile(locator)
	}

	switch u.Scheme {
	case "file":
		return openFile(u.Path)
	case "srt":
		return openSRT(ctx, u, opts)
	case "rtmp":
		dmx, err := newRTMPDemuxer(u)
		if err != nil {
			return nil, err
		}
		return &input{dmx: dmx, format: "rtmp"}, nil
	case "rtp":
		dmx, err := newRTPDemuxer(u)
		if err != nil {
			return nil, err
		}
		return &input{dmx: dmx, format: "rtp"}, nil
	case "testsrc":
		dmx, err := newTestSrcDemuxer(u)
		if err != nil {
			return nil, err
		}
		return &input{dmx: dmx, format: "testsrc"}, nil
	}
	return nil, fmt.Errorf("unsupported protocol %q: %w", u.Scheme, ErrInvalidData)
}

func openFile(path string) (*input, error) {
	op := "open " + path
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, check(op, NativeNotFound)
	case err != nil:
		return nil, checkCause(op, nativeIOError, err)
	case fi.IsDir():
		return nil, check(op, NativeIsDirectory)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, checkCause(op, nativeIOError, err)
	}
	return &input{
		src: newFileSource(f, f, f, fi.Size()),
		ext: filepath.Ext(path),
	}, nil
}

// openSRT dials an SRT listener and reads MPEG-TS from it. The stream id is
// taken from the streamid query parameter.
func openSRT(ctx context.Context, u *url.URL, opts Options) (*input, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatency
	if id := u.Query().Get("streamid"); id != "" {
		cfg.StreamID = id
	}

	ch := make(chan srtDialResult, 1)
	go func() {
		conn, err := srtgo.Dial(u.Host, cfg)
		ch <- srtDialResult{conn, err}
	}()

	timer := time.NewTimer(opts.timeout())
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt dial %s: %w", u.Host, res.err)
		}
		return &input{src: newStreamSource(ctx, res.conn, res.conn), format: "mpegts"}, nil
	case <-timer.C:
		go closeLateSRT(ch)
		return nil, fmt.Errorf("srt dial %s: timed out after %s", u.Host, opts.timeout())
	case <-ctx.Done():
		go closeLateSRT(ch)
		return nil, ctx.Err()
	}
}

type srtDialResult struct {
	conn *srtgo.Conn
	err  error
}

// closeLateSRT closes a connection that completes after the caller gave up.
func closeLateSRT(ch <-chan srtDialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}
