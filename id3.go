package av

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const (
	id3HeaderSize = 10
	id3v1Size     = 128
)

// ID3v2 header flags.
const (
	id3FlagUnsync   = 0x80
	id3FlagExtended = 0x40
	id3FlagFooter   = 0x10
)

// id3Tags maps text frames of ID3v2.2 and ID3v2.3/2.4 to metadata keys.
var id3Tags = map[string]string{
	"TIT2": "title", "TT2": "title",
	"TPE1": "artist", "TP1": "artist",
	"TPE2": "album_artist", "TP2": "album_artist",
	"TALB": "album", "TAL": "album",
	"TRCK": "track", "TRK": "track",
	"TPOS": "disc", "TPA": "disc",
	"TYER": "date", "TYE": "date", "TDRC": "date",
	"TCON": "genre", "TCO": "genre",
	"TCOM": "composer", "TCM": "composer",
	"TCOP": "copyright", "TCR": "copyright",
	"TSSE": "encoder", "TSS": "encoder",
	"TLAN": "language", "TLA": "language",
	"TPUB": "publisher", "TPB": "publisher",
}

var id3PictureTypes = [...]string{
	"Other",
	"32x32 pixels 'file icon'",
	"Other file icon",
	"Cover (front)",
	"Cover (back)",
	"Leaflet page",
	"Media (e.g. label side of CD)",
	"Lead artist/lead performer/soloist",
	"Artist/performer",
	"Conductor",
	"Band/Orchestra",
	"Composer",
	"Lyricist/text writer",
	"Recording Location",
	"During recording",
	"During performance",
	"Movie/video screen capture",
	"A bright coloured fish",
	"Illustration",
	"Band/artist logotype",
	"Publisher/Studio logotype",
}

// id3Picture is an APIC (or ID3v2.2 PIC) frame.
type id3Picture struct {
	mime string
	kind byte
	desc string
	data []byte
}

func (p *id3Picture) codec() CodecID {
	switch strings.ToLower(p.mime) {
	case "image/jpeg", "image/jpg", "jpg":
		return CodecMJPEG
	case "image/png", "png":
		return CodecPNG
	}
	switch {
	case bytes.HasPrefix(p.data, []byte{0xFF, 0xD8, 0xFF}):
		return CodecMJPEG
	case bytes.HasPrefix(p.data, []byte("\x89PNG")):
		return CodecPNG
	}
	return CodecUnknown
}

func (p *id3Picture) typeName() string {
	if int(p.kind) < len(id3PictureTypes) {
		return id3PictureTypes[p.kind]
	}
	return id3PictureTypes[0]
}

func syncsafe(b []byte) int {
	return int(b[0]&0x7F)<<21 | int(b[1]&0x7F)<<14 | int(b[2]&0x7F)<<7 | int(b[3]&0x7F)
}

// id3TagSize returns the full size of the ID3v2 tag starting at b, or 0 if b
// does not start one.
func id3TagSize(b []byte) int {
	if len(b) < id3HeaderSize || string(b[:3]) != "ID3" || b[3] == 0xFF || b[4] == 0xFF {
		return 0
	}
	for _, c := range b[6:10] {
		if c&0x80 != 0 {
			return 0
		}
	}
	n := id3HeaderSize + syncsafe(b[6:10])
	if b[5]&id3FlagFooter != 0 {
		n += id3HeaderSize
	}
	return n
}

// unsync reverses the unsynchronisation scheme, which inserts a zero after
// every 0xFF.
func unsync(b []byte) []byte {
	if !bytes.Contains(b, []byte{0xFF, 0x00}) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		out = append(out, b[i])
		if b[i] == 0xFF && i+1 < len(b) && b[i+1] == 0 {
			i++
		}
	}
	return out
}

// parseID3v2 reads the text frames of a complete tag into md and returns its
// pictures. Unknown, compressed and encrypted frames are skipped.
func parseID3v2(tag []byte, md Metadata) []id3Picture {
	if id3TagSize(tag) == 0 || len(tag) < id3TagSize(tag) {
		return nil
	}
	major, flags := tag[3], tag[5]
	body := tag[id3HeaderSize : id3HeaderSize+syncsafe(tag[6:10])]
	if major < 4 && flags&id3FlagUnsync != 0 {
		body = unsync(body)
	}
	if flags&id3FlagExtended != 0 && len(body) >= 4 {
		n := int(binary.BigEndian.Uint32(body))
		if major >= 4 {
			n = syncsafe(body)
		} else {
			n += 4
		}
		if n > len(body) {
			return nil
		}
		body = body[n:]
	}

	idLen, hdrLen := 4, 10
	if major == 2 {
		idLen, hdrLen = 3, 6
	}

	var pics []id3Picture
	for len(body) >= hdrLen && body[0] != 0 {
		id := string(body[:idLen])
		var size int
		var fflags uint16
		switch major {
		case 2:
			size = int(body[3])<<16 | int(body[4])<<8 | int(body[5])
		case 3:
			size = int(binary.BigEndian.Uint32(body[4:]))
			fflags = binary.BigEndian.Uint16(body[8:])
		default:
			size = syncsafe(body[4:8])
			fflags = binary.BigEndian.Uint16(body[8:])
		}
		if size < 0 || size > len(body)-hdrLen {
			break
		}
		data := body[hdrLen : hdrLen+size]
		body = body[hdrLen+size:]

		if major == 3 && fflags&0x00C0 != 0 {
			continue
		}
		if major >= 4 {
			if fflags&0x000C != 0 {
				continue
			}
			if fflags&0x0002 != 0 || flags&id3FlagUnsync != 0 {
				data = unsync(data)
			}
			if fflags&0x0001 != 0 {
				if len(data) < 4 {
					continue
				}
				data = data[4:]
			}
		}
		if len(data) == 0 {
			continue
		}

		switch {
		case id == "APIC" || id == "PIC":
			if p, ok := parseID3Picture(id, data); ok {
				pics = append(pics, p)
			}
		case id == "TXXX" || id == "TXX":
			desc, value := id3Split(data[0], data[1:])
			if k := strings.ToLower(id3Text(data[0], desc)); k != "" {
				md[k] = id3Text(data[0], value)
			}
		case id == "COMM" || id == "COM":
			if len(data) < 4 {
				continue
			}
			_, text := id3Split(data[0], data[4:])
			if s := id3Text(data[0], text); s != "" {
				md["comment"] = s
			}
		default:
			if key, ok := id3Tags[id]; ok {
				// Multiple values are separated by NUL in ID3v2.4.
				s := id3Text(data[0], data[1:])
				s = strings.ReplaceAll(s, "\x00", ";")
				if s != "" {
					md[key] = s
				}
			}
		}
	}
	return pics
}

func parseID3Picture(id string, data []byte) (id3Picture, bool) {
	enc := data[0]
	rest := data[1:]
	var p id3Picture
	if id == "PIC" {
		if len(rest) < 4 {
			return p, false
		}
		p.mime, rest = string(rest[:3]), rest[3:]
	} else {
		mime, r := id3Split(0, rest)
		p.mime, rest = string(mime), r
	}
	if len(rest) < 1 {
		return p, false
	}
	p.kind = rest[0]
	desc, rest := id3Split(enc, rest[1:])
	p.desc = id3Text(enc, desc)
	p.data = append([]byte(nil), rest...)
	return p, len(p.data) > 0
}

// id3Split cuts b at the first string terminator of the given encoding.
func id3Split(enc byte, b []byte) (field, rest []byte) {
	if enc == 1 || enc == 2 {
		for i := 0; i+1 < len(b); i += 2 {
			if b[i] == 0 && b[i+1] == 0 {
				return b[:i], b[i+2:]
			}
		}
		return b, nil
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i], b[i+1:]
	}
	return b, nil
}

// id3Text decodes a string in one of the four ID3v2 text encodings: ISO-8859-1,
// UTF-16 with BOM, UTF-16BE and UTF-8.
func id3Text(enc byte, b []byte) string {
	var dec *encoding.Decoder
	switch enc {
	case 0:
		dec = charmap.ISO8859_1.NewDecoder()
	case 1:
		dec = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	case 2:
		dec = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	}
	s := string(b)
	if dec != nil {
		var err error
		if s, err = dec.String(s); err != nil {
			return ""
		}
	}
	return strings.TrimRight(s, "\x00")
}

// parseID3v1 reads the 128 byte trailer tag. Fields already set by an ID3v2
// tag are kept.
func parseID3v1(b []byte, md Metadata) {
	if len(b) != id3v1Size || string(b[:3]) != "TAG" {
		return
	}
	field := func(key string, f []byte) {
		if _, ok := md[key]; ok {
			return
		}
		if i := bytes.IndexByte(f, 0); i >= 0 {
			f = f[:i]
		}
		s, err := charmap.ISO8859_1.NewDecoder().String(strings.TrimRight(string(f), " "))
		if err == nil && s != "" {
			md[key] = s
		}
	}
	field("title", b[3:33])
	field("artist", b[33:63])
	field("album", b[63:93])
	field("date", b[93:97])
	field("comment", b[97:127])
	// ID3v1.1 stores the track number in the last byte of the comment.
	if _, ok := md["track"]; !ok && b[125] == 0 && b[126] != 0 {
		md["track"] = strconv.Itoa(int(b[126]))
	}
}
