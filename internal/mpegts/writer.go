package mpegts

import (
	"encoding/binary"
	"io"
)

// WriterStream declares an elementary stream for Writer.
type WriterStream struct {
	PID         uint16
	StreamType  uint8
	StreamID    uint8 // PES stream_id, e.g. 0xE0 for video, 0xC0 for audio
	Descriptors []Descriptor
}

// Writer produces a single-program transport stream.
type Writer struct {
	w       io.Writer
	streams []WriterStream
	pmtPID  uint16
	cc      map[uint16]uint8
}

// NewWriter returns a Writer for program 1 with its PMT on pid 0x1000.
func NewWriter(w io.Writer, streams ...WriterStream) *Writer {
	return &Writer{w: w, streams: streams, pmtPID: 0x1000, cc: make(map[uint16]uint8)}
}

// WriteTables writes the PAT and PMT.
func (w *Writer) WriteTables() error {
	pat := []byte{
		tableIDPAT, 0xB0, 0x00,
		0x00, 0x01, // transport_stream_id
		0xC1, 0x00, 0x00,
		0x00, 0x01, 0xE0 | byte(w.pmtPID>>8), byte(w.pmtPID),
	}
	if err := w.writeSection(pidPAT, pat); err != nil {
		return err
	}

	pcr := uint16(0x1FFF)
	if len(w.streams) > 0 {
		pcr = w.streams[0].PID
	}
	pmt := []byte{
		tableIDPMT, 0xB0, 0x00,
		0x00, 0x01, // program_number
		0xC1, 0x00, 0x00,
		0xE0 | byte(pcr>>8), byte(pcr),
		0xF0, 0x00, // program_info_length
	}
	for _, s := range w.streams {
		var info []byte
		for _, d := range s.Descriptors {
			info = append(info, d.Tag, byte(len(d.Data)))
			info = append(info, d.Data...)
		}
		pmt = append(pmt, s.StreamType, 0xE0|byte(s.PID>>8), byte(s.PID), 0xF0|byte(len(info)>>8), byte(len(info)))
		pmt = append(pmt, info...)
	}
	return w.writeSection(w.pmtPID, pmt)
}

func (w *Writer) writeSection(pid uint16, section []byte) error {
	length := len(section) - 3 + 4
	section[1] = 0xB0 | byte(length>>8)&0x0F
	section[2] = byte(length)
	section = binary.BigEndian.AppendUint32(section, crc32MPEG(section))

	payload := append([]byte{0x00}, section...)
	_, err := w.packet(pid, true, false, payload)
	return err
}

// WritePES writes one PES packet. Negative pts or dts are omitted.
func (w *Writer) WritePES(pid uint16, pts, dts int64, randomAccess bool, data []byte) error {
	streamID := uint8(0xE0)
	for _, s := range w.streams {
		if s.PID == pid {
			streamID = s.StreamID
		}
	}

	hdr := []byte{0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x80, 0x00, 0x00}
	switch {
	case pts >= 0 && dts >= 0 && dts != pts:
		hdr[7], hdr[8] = 0xC0, 10
		hdr = append(hdr, make([]byte, 10)...)
		putTimestamp(hdr[9:], 0x3, pts)
		putTimestamp(hdr[14:], 0x1, dts)
	case pts >= 0:
		hdr[7], hdr[8] = 0x80, 5
		hdr = append(hdr, make([]byte, 5)...)
		putTimestamp(hdr[9:], 0x2, pts)
	}
	if n := len(hdr) - 6 + len(data); n <= 0xFFFF {
		binary.BigEndian.PutUint16(hdr[4:], uint16(n))
	}

	payload := append(hdr, data...)
	first := true
	for len(payload) > 0 {
		n, err := w.packet(pid, first, first && randomAccess, payload)
		if err != nil {
			return err
		}
		payload = payload[n:]
		first = false
	}
	return nil
}

// packet writes one transport packet and returns how many bytes of data it
// carried. Short payloads are padded with adaptation field stuffing.
func (w *Writer) packet(pid uint16, pusi, randomAccess bool, data []byte) (int, error) {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	if pusi {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	cc := w.cc[pid]
	w.cc[pid] = (cc + 1) & 0x0F

	space := PacketSize - 4
	afMin := 0
	if randomAccess {
		afMin = 2 // length byte + flags byte
	}
	n := len(data)
	if n > space-afMin {
		n = space - afMin
	}

	if n < space {
		afTotal := space - n
		buf[3] = 0x30 | cc
		buf[4] = byte(afTotal - 1)
		if afTotal >= 2 {
			if randomAccess {
				buf[5] = 0x40
			}
			for i := 6; i < 4+afTotal; i++ {
				buf[i] = 0xFF
			}
		}
		copy(buf[4+afTotal:], data[:n])
	} else {
		buf[3] = 0x10 | cc
		copy(buf[4:], data[:n])
	}

	_, err := w.w.Write(buf)
	return n, err
}
