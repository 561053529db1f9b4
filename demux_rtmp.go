package av

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"github.com/thesyncim/av/internal/flv"
)

const (
	rtmpDefaultPort = "1935"
	rtmpQueueTags   = 256
	rtmpWindowSize  = 6 * 1024 * 1024
)

var errRTMPClosed = errors.New("rtmp input closed")

// rtmpEvent is one message from the publisher: a media tag body, or script
// data when meta is set.
type rtmpEvent struct {
	typ  byte
	ts   uint32
	body []byte
	meta *flv.ScriptData
}

// rtmpDemuxer listens for a single RTMP publisher. rtmp://host:port/app/key
// accepts only the stream key "key"; without a key any name is accepted.
type rtmpDemuxer struct {
	addr string
	app  string
	key  string

	ln        net.Listener
	tags      *flvTags
	events    chan rtmpEvent
	published chan string
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	publisher *rtmpHandler
	conns     []net.Conn
	ended     bool
}

func newRTMPDemuxer(u *url.URL) (demuxer, error) {
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), rtmpDefaultPort)
	}
	app, key, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	return &rtmpDemuxer{
		addr:      host,
		app:       app,
		key:       key,
		tags:      newFLVTags(),
		events:    make(chan rtmpEvent, rtmpQueueTags),
		published: make(chan string, 1),
		done:      make(chan struct{}),
	}, nil
}

func (d *rtmpDemuxer) readHeader(fc *formatContext) int32 {
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		fc.log.Error().Err(err).Str("addr", d.addr).Msg("rtmp listen failed")
		return nativeIOError
	}
	d.ln = ln

	srv := rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
			d.mu.Lock()
			d.conns = append(d.conns, conn)
			d.mu.Unlock()
			return conn, &rtmp.ConnConfig{
				Handler: &rtmpHandler{d: d, log: fc.log},
				ControlState: rtmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: rtmpWindowSize,
				},
			}
		},
	})
	go srv.Serve(ln)
	fc.log.Info().Str("addr", ln.Addr().String()).Str("app", d.app).Msg("rtmp waiting for publisher")

	deadline := time.NewTimer(fc.opts.timeout())
	defer deadline.Stop()

	select {
	case name := <-d.published:
		fc.log.Info().Str("name", name).Msg("rtmp publisher connected")
	case <-deadline.C:
		fc.log.Warn().Dur("timeout", fc.opts.timeout()).Msg("no rtmp publisher")
		return nativeIOError
	case <-fc.ctx.Done():
		return nativeIOError
	}

	// Read until the codec configuration of the announced streams is known.
	wantAudio, wantVideo := false, false
	for n := 0; n < flvProbeTags; n++ {
		ev, ret := d.next(fc, deadline.C)
		if ret == NativeEndOfStream {
			break
		}
		if ret < 0 {
			return ret
		}
		if ev.meta != nil {
			applyScriptData(fc, ev.meta)
			_, wantAudio = ev.meta.Number("audiocodecid")
			_, wantVideo = ev.meta.Number("videocodecid")
			continue
		}
		pkt, ret := d.tags.tag(fc, ev.typ, ev.ts, ev.body)
		if ret < 0 {
			fc.log.Debug().Msg("skipping malformed rtmp tag")
			continue
		}
		if pkt != nil {
			fc.enqueue(pkt)
		}
		if d.tags.ready(wantAudio, wantVideo) && (wantAudio || wantVideo || len(fc.queue) > 0) {
			break
		}
	}
	d.tags.frozen = true
	for _, st := range fc.streams {
		st.StartTime = 0
	}
	if len(fc.streams) == 0 {
		return NativeStreamNotFound
	}
	return 0
}

// next waits for the next publisher event. timeout may be nil.
func (d *rtmpDemuxer) next(fc *formatContext, timeout <-chan time.Time) (rtmpEvent, int32) {
	if fc.nonBlock {
		select {
		case ev, ok := <-d.events:
			if !ok {
				return ev, NativeEndOfStream
			}
			return ev, 0
		default:
			return rtmpEvent{}, NativeWouldBlock
		}
	}
	select {
	case ev, ok := <-d.events:
		if !ok {
			return ev, NativeEndOfStream
		}
		return ev, 0
	case <-timeout:
		return rtmpEvent{}, NativeEndOfStream
	case <-fc.ctx.Done():
		return rtmpEvent{}, NativeEndOfStream
	}
}

func (d *rtmpDemuxer) readPacket(fc *formatContext) (*Packet, int32) {
	for {
		ev, ret := d.next(fc, nil)
		if ret < 0 {
			return nil, ret
		}
		if ev.meta != nil {
			applyScriptData(fc, ev.meta)
			continue
		}
		pkt, ret := d.tags.tag(fc, ev.typ, ev.ts, ev.body)
		if ret < 0 {
			fc.log.Debug().Msg("skipping malformed rtmp tag")
			continue
		}
		if pkt != nil {
			return pkt, 0
		}
	}
}

func (d *rtmpDemuxer) localAddr() net.Addr {
	if d.ln == nil {
		return nil
	}
	return d.ln.Addr()
}

// push hands an event to the reader. It fails once the input is closed so the
// connection is dropped.
func (d *rtmpDemuxer) push(h *rtmpHandler, ev rtmpEvent) error {
	d.mu.Lock()
	active := d.publisher == h && !d.ended
	d.mu.Unlock()
	if !active {
		return nil
	}
	select {
	case d.events <- ev:
		return nil
	case <-d.done:
		return errRTMPClosed
	}
}

// end marks the end of the published stream.
func (d *rtmpDemuxer) end(h *rtmpHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.publisher != h || d.ended {
		return
	}
	d.ended = true
	close(d.events)
}

func (d *rtmpDemuxer) close() {
	d.closeOnce.Do(func() {
		close(d.done)
		if d.ln != nil {
			d.ln.Close()
		}
		d.mu.Lock()
		conns := d.conns
		d.conns = nil
		d.mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
}

// rtmpHandler receives the messages of one RTMP connection.
type rtmpHandler struct {
	rtmp.DefaultHandler
	d   *rtmpDemuxer
	log zerolog.Logger
}

func (h *rtmpHandler) OnPublish(_ *rtmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	d := h.d
	if d.key != "" && cmd.PublishingName != d.key {
		h.log.Warn().Str("name", cmd.PublishingName).Msg("rejecting rtmp publisher with wrong stream key")
		return fmt.Errorf("rtmp: unknown stream %q", cmd.PublishingName)
	}

	d.mu.Lock()
	if d.publisher != nil {
		d.mu.Unlock()
		h.log.Warn().Str("name", cmd.PublishingName).Msg("rejecting second rtmp publisher")
		return errors.New("rtmp: stream already published")
	}
	d.publisher = h
	d.mu.Unlock()

	d.published <- cmd.PublishingName
	return nil
}

func (h *rtmpHandler) OnSetDataFrame(_ uint32, data *rtmpmsg.NetStreamSetDataFrame) error {
	sd, err := flv.ParseScriptData(data.Payload)
	if err != nil {
		h.log.Debug().Err(err).Msg("ignoring rtmp script data")
		return nil
	}
	return h.d.push(h, rtmpEvent{typ: flv.TagTypeScript, meta: sd})
}

func (h *rtmpHandler) OnAudio(timestamp uint32, payload io.Reader) error {
	return h.media(flv.TagTypeAudio, timestamp, payload)
}

func (h *rtmpHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	return h.media(flv.TagTypeVideo, timestamp, payload)
}

func (h *rtmpHandler) media(typ byte, timestamp uint32, payload io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, payload); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return nil
	}
	return h.d.push(h, rtmpEvent{typ: typ, ts: timestamp, body: buf.Bytes()})
}

func (h *rtmpHandler) OnClose() {
	h.log.Info().Msg("rtmp publisher disconnected")
	h.d.end(h)
}
