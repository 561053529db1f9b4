package av

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/pion/rtp"
)

// packetizeH264 splits an Annex-B access unit into single NAL unit and FU-A
// packets no larger than mtu, marking the last one.
func packetizeH264(au []byte, pt uint8, seq uint16, ts uint32, mtu int) []*rtp.Packet {
	nalus := splitAnnexB(au)
	var pkts []*rtp.Packet
	add := func(payload []byte) {
		pkts = append(pkts, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    pt,
				SequenceNumber: seq + uint16(len(pkts)),
				Timestamp:      ts,
				SSRC:           0x1234,
			},
			Payload: payload,
		})
	}
	for _, nalu := range nalus {
		if len(nalu) <= mtu {
			add(nalu)
			continue
		}
		indicator := nalu[0]&0x60 | nalTypeFUA
		for off := 1; off < len(nalu); off += mtu - 2 {
			end := min(off+mtu-2, len(nalu))
			header := nalu[0] & 0x1F
			if off == 1 {
				header |= 0x80
			}
			if end == len(nalu) {
				header |= 0x40
			}
			add(append([]byte{indicator, header}, nalu[off:end]...))
		}
	}
	pkts[len(pkts)-1].Marker = true
	return pkts
}

// stapA aggregates NAL units into one STAP-A payload.
func stapA(nalus ...[]byte) []byte {
	b := []byte{nalTypeSTAPA}
	for _, n := range nalus {
		b = binary.BigEndian.AppendUint16(b, uint16(len(n)))
		b = append(b, n...)
	}
	return b
}

func bigIDR(n int) []byte {
	idr := make([]byte, n)
	idr[0] = 0x65
	for i := 1; i < n; i++ {
		idr[i] = byte(i%250 + 1)
	}
	return idr
}

func TestH264DepacketizerFUA(t *testing.T) {
	idr := bigIDR(3000)
	au := joinAnnexB(idr)
	pkts := packetizeH264(au, 96, 10, 9000, 1200)
	if len(pkts) != 3 {
		t.Fatalf("packetized into %d packets, want 3", len(pkts))
	}

	d := &h264Depacketizer{}
	for i, p := range pkts {
		got, key, err := d.push(p)
		if err != nil {
			t.Fatal(err)
		}
		if i < len(pkts)-1 {
			if got != nil {
				t.Fatalf("packet %d completed an access unit", i)
			}
			continue
		}
		if !key || !bytes.Equal(got, au) {
			t.Errorf("reassembled %d bytes, key %v", len(got), key)
		}
	}
}

func TestH264DepacketizerSTAPA(t *testing.T) {
	sps := buildSPS(spsParams{width: 320, height: 240, refs: 1})
	d := &h264Depacketizer{}
	first := &rtp.Packet{Header: rtp.Header{Timestamp: 100}, Payload: stapA(sps, testPPS)}
	if au, _, err := d.push(first); au != nil || err != nil {
		t.Fatalf("STAP-A without marker: %x, %v", au, err)
	}
	last := &rtp.Packet{Header: rtp.Header{Timestamp: 100, Marker: true}, Payload: testIDR}
	au, key, err := d.push(last)
	if err != nil || !key || !bytes.Equal(au, testKeyAU(320, 240)) {
		t.Errorf("au = %x, key %v, err %v", au, key, err)
	}

	bad := []*rtp.Packet{
		{Payload: []byte{nalTypeSTAPA, 0x00}},
		{Payload: []byte{nalTypeSTAPA, 0x00, 0x09, 0x67}},
		{Payload: []byte{nalTypeFUA}},
		{Payload: []byte{30, 0x00}},
	}
	for _, p := range bad {
		if _, _, err := d.push(p); !errors.Is(err, ErrInvalidData) {
			t.Errorf("push(%x) = %v, want InvalidData", p.Payload, err)
		}
	}
}

func TestH264DepacketizerLostTail(t *testing.T) {
	d := &h264Depacketizer{}
	pkts := packetizeH264(joinAnnexB(bigIDR(2000)), 96, 0, 1000, 1200)
	d.push(pkts[0])
	// The next unit starts before the marker of the previous one arrived.
	slice := &rtp.Packet{Header: rtp.Header{Timestamp: 4000, Marker: true}, Payload: testSlice}
	au, key, err := d.push(slice)
	if err != nil || key || !bytes.Equal(au, joinAnnexB(testSlice)) {
		t.Errorf("au = %x, key %v, err %v", au, key, err)
	}
	// A trailing fragment without its start is ignored.
	if au, _, _ := d.push(pkts[1]); au != nil {
		t.Errorf("orphan fragment produced %x", au)
	}
}

func TestNewRTPDemuxer(t *testing.T) {
	tests := []struct {
		locator string
		want    map[uint8]CodecID
	}{
		{"rtp://0.0.0.0:5004", map[uint8]CodecID{96: CodecH264}},
		{"rtp://0.0.0.0:5004?pt=96:h264,111:opus", map[uint8]CodecID{96: CodecH264, 111: CodecOpus}},
		{"rtp://127.0.0.1:5004?pt=0,8", map[uint8]CodecID{0: CodecPCMMuLaw, 8: CodecPCMALaw}},
		{"rtp://127.0.0.1:5004?pt=97:PCMU,98:avc", map[uint8]CodecID{97: CodecPCMMuLaw, 98: CodecH264}},
		{"rtp://127.0.0.1:5004?pt=96:VP8,98:vp9,100:av1", map[uint8]CodecID{96: CodecVP8, 98: CodecVP9, 100: CodecAV1}},
	}
	for _, tt := range tests {
		u, _ := url.Parse(tt.locator)
		dmx, err := newRTPDemuxer(u)
		if err != nil {
			t.Errorf("%s: %v", tt.locator, err)
			continue
		}
		d := dmx.(*rtpDemuxer)
		if len(d.tracks) != len(tt.want) {
			t.Errorf("%s: %d tracks, want %d", tt.locator, len(d.tracks), len(tt.want))
		}
		for pt, codec := range tt.want {
			if tr := d.tracks[pt]; tr == nil || tr.codec != codec {
				t.Errorf("%s: pt %d = %+v, want %v", tt.locator, pt, tr, codec)
			}
		}
	}

	bad := []struct {
		locator string
		want    error
	}{
		{"rtp://127.0.0.1", ErrInvalidData},
		{"rtp://127.0.0.1:5004?pt=200:h264", ErrInvalidData},
		{"rtp://127.0.0.1:5004?pt=96:theora", ErrInvalidData},
		{"rtp://127.0.0.1:5004?pt=5", ErrInvalidData},
		{"rtp://127.0.0.1:5004?pt=96:h264,96:opus", ErrInvalidData},
		{"rtp://127.0.0.1:5004?pt=96:aac", ErrDecoderNotFound},
	}
	for _, tt := range bad {
		u, _ := url.Parse(tt.locator)
		if _, err := newRTPDemuxer(u); !errors.Is(err, tt.want) {
			t.Errorf("%s: %v, want %v", tt.locator, err, tt.want)
		}
	}
}

func TestRTPHandleSequence(t *testing.T) {
	u, _ := url.Parse("rtp://127.0.0.1:0?pt=96:h264,0")
	dmx, err := newRTPDemuxer(u)
	if err != nil {
		t.Fatal(err)
	}
	d := dmx.(*rtpDemuxer)
	fc := &formatContext{metadata: Metadata{}}
	// Streams without listening.
	for _, pt := range d.order {
		tr := d.tracks[pt]
		st := fc.addStream(&Stream{Codec: tr.codec, Type: tr.codec.MediaType(), TimeBase: TimeBase{1, int64(tr.codec.ClockRate())}})
		tr.index = st.Index
	}

	pkts := packetizeH264(joinAnnexB(bigIDR(2500)), 96, 100, 3000, 1200)
	if out := d.handle(fc, pkts[0]); out != nil {
		t.Fatal("first fragment completed a unit")
	}
	// pkts[1] is lost.
	if out := d.handle(fc, pkts[2]); out != nil {
		t.Errorf("unit completed across a gap: %d bytes", len(out.Data))
	}
	if tr := d.tracks[96]; tr.lost != 1 {
		t.Errorf("lost = %d, want 1", tr.lost)
	}
	// Late duplicate.
	if out := d.handle(fc, pkts[1]); out != nil {
		t.Error("reordered packet accepted")
	}

	next := packetizeH264(testKeyAU(160, 96), 96, 103, 6000, 1200)
	var out *Packet
	for _, p := range next {
		out = d.handle(fc, p)
	}
	if out == nil || out.PTS != 3000 || !out.Keyframe || out.StreamIndex != 0 {
		t.Fatalf("packet = %+v", out)
	}
	if st := fc.streams[0]; st.Params.Width != 160 || st.Params.Height != 96 {
		t.Errorf("params = %+v", st.Params)
	}

	mulaw := &rtp.Packet{Header: rtp.Header{PayloadType: 0, SequenceNumber: 7, Timestamp: 160}, Payload: make([]byte, 160)}
	if out := d.handle(fc, mulaw); out == nil || out.StreamIndex != 1 || out.PTS != 0 || len(out.Data) != 160 {
		t.Errorf("mulaw packet = %+v", out)
	}
	if out := d.handle(fc, &rtp.Packet{Header: rtp.Header{PayloadType: 33}, Payload: []byte{1}}); out != nil {
		t.Error("unmapped payload type accepted")
	}
}

func TestRTPTimestampUnwrap(t *testing.T) {
	tr := &rtpTrack{}
	for i, tt := range []struct {
		in   uint32
		want int64
	}{
		{0xFFFFFF00, 0},
		{0xFFFFFFF0, 0xF0},
		{0x00000100, 0x200},
		{0x000000F0, 0x1F0},
	} {
		if got := tr.unwrap(tt.in); got != tt.want {
			t.Errorf("unwrap #%d(%#x) = %#x, want %#x", i, tt.in, got, tt.want)
		}
	}
}

func TestRTPSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, "rtp://127.0.0.1:0?pt=96:h264,0", Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Format() != "rtp" || s.Seekable() {
		t.Errorf("format %s, seekable %v", s.Format(), s.Seekable())
	}
	if err := s.Seek(0, 0); !errors.Is(err, ErrNotSeekable) {
		t.Errorf("Seek = %v", err)
	}

	s.SetNonBlocking(true)
	if _, err := s.NextPacket(); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("NextPacket before data = %v, want WouldBlock", err)
	}
	s.SetNonBlocking(false)

	conn, err := net.Dial("udp", s.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sps := buildSPS(spsParams{width: 320, height: 240, refs: 1})
	pkts := []*rtp.Packet{
		{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, Timestamp: 90000}, Payload: stapA(sps, testPPS)},
		{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 2, Timestamp: 90000, Marker: true}, Payload: testIDR},
		{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 3, Timestamp: 93600, Marker: true}, Payload: testSlice},
		{Header: rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: 50, Timestamp: 8000}, Payload: bytes.Repeat([]byte{0xff}, 160)},
	}
	for _, p := range pkts {
		b, err := p.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := conn.Write(b); err != nil {
			t.Fatal(err)
		}
	}
	// Not RTP.
	conn.Write([]byte{0x01})

	var got []*Packet
	for len(got) < 3 {
		p, err := s.NextPacket()
		if err != nil {
			t.Fatalf("after %d packets: %v", len(got), err)
		}
		got = append(got, p)
	}
	if !bytes.Equal(got[0].Data, testKeyAU(320, 240)) || !got[0].Keyframe || got[0].PTS != 0 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].PTS != 3600 || got[1].Keyframe {
		t.Errorf("second = %+v", got[1])
	}
	if got[2].StreamIndex != 1 || len(got[2].Data) != 160 {
		t.Errorf("third = %+v", got[2])
	}
	if st, _ := s.Stream(0); st.Params.Width != 320 || !st.Disposition.Has(DispositionDefault) {
		t.Errorf("video stream = %+v", st)
	}

	cancel()
	if _, err := s.NextPacket(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("NextPacket after cancel = %v, want EndOfStream", err)
	}
}
