package main

import (
	"github.com/thesyncim/av"
)

type libraryInfo struct {
	Name   string `json:"name"`
	Loaded bool   `json:"loaded"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

type decoderInfo struct {
	Name      string `json:"name"`
	Codec     string `json:"codec"`
	Provider  string `json:"provider"`
	License   string `json:"license"`
	Available bool   `json:"available"`
}

// runtimeInfo describes the decoders this build can use and the native
// libraries found on the host.
type runtimeInfo struct {
	Libavutil  string        `json:"libavutil,omitempty"`
	Libavcodec string        `json:"libavcodec,omitempty"`
	Libraries  []libraryInfo `json:"libraries"`
	Decoders   []decoderInfo `json:"decoders"`
}

func describeRuntime() runtimeInfo {
	var info runtimeInfo
	info.Libavutil, info.Libavcodec = av.LibavVersions()
	for _, l := range av.Libraries() {
		li := libraryInfo{Name: l.Name, Loaded: l.Loaded, Path: l.Path}
		if l.Err != nil {
			li.Error = l.Err.Error()
		}
		info.Libraries = append(info.Libraries, li)
	}
	for _, d := range av.Decoders() {
		info.Decoders = append(info.Decoders, decoderInfo{
			Name:      d.Name,
			Codec:     d.Codec.String(),
			Provider:  d.Provider.String(),
			License:   d.Provider.License().String(),
			Available: d.Available,
		})
	}
	return info
}

// decoderFor names the decoder a pipeline would pick for st. When none is
// available it reports whether the system libavcodec could decode the codec.
func decoderFor(st av.Stream) (name string, libav bool) {
	if d, err := av.FindDecoder(st.Codec); err == nil {
		return d.Name, false
	}
	return "", av.LibavHasDecoder(st.Codec.String())
}
