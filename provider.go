package av

// Provider identifies a codec implementation.
type Provider uint8

const (
	ProviderAuto     Provider = iota // Let library choose best available
	ProviderBuiltin                  // Pure Go decoders (PCM, G.711, raw video)
	ProviderOpenH264                 // BSD H.264 decoder via libmedia_h264
	ProviderLibopus                  // BSD Opus decoder via libstream_opus
	ProviderLibvpx                   // BSD VP8/VP9 decoder via libmedia_vpx
	ProviderLibaom                   // BSD AV1 decoder via libmedia_av1
	providerCount
)

// License represents the software license of a provider.
type License uint8

const (
	LicenseGPL License = iota // Copyleft - requires source disclosure
	LicenseBSD                // Permissive - no copyleft obligations
)

// Permissive returns true if the license has no copyleft obligations.
func (l License) Permissive() bool { return l == LicenseBSD }

func (l License) String() string {
	switch l {
	case LicenseGPL:
		return "GPL"
	case LicenseBSD:
		return "BSD"
	default:
		return "unknown"
	}
}

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name    string
	License License
	Native  bool
}

// Static metadata table - indexed by Provider, zero allocations.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:     {"auto", LicenseBSD, false},
	ProviderBuiltin:  {"builtin", LicenseBSD, false},
	ProviderOpenH264: {"openh264", LicenseBSD, true},
	ProviderLibopus:  {"libopus", LicenseBSD, true},
	ProviderLibvpx:   {"libvpx", LicenseBSD, true},
	ProviderLibaom:   {"libaom", LicenseBSD, true},
}

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// License returns the provider's license type.
func (p Provider) License() License {
	if p >= providerCount {
		return LicenseGPL
	}
	return providerInfo[p].License
}

// Native reports whether the provider needs a dynamically loaded library.
func (p Provider) Native() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Native
}
