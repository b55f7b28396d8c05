package model

// GlyphsRasterizationMode controls which glyphs are rendered on-device
// instead of being bundled into the style pack.
type GlyphsRasterizationMode int

const (
	IdeographsRasterizedLocally GlyphsRasterizationMode = iota
	NoGlyphsRasterizedLocally
	AllGlyphsRasterizedLocally
)

// String returns the wire name of the mode.
func (m GlyphsRasterizationMode) String() string {
	switch m {
	case NoGlyphsRasterizedLocally:
		return "noGlyphsRasterizedLocally"
	case AllGlyphsRasterizedLocally:
		return "allGlyphsRasterizedLocally"
	default:
		return "ideographsRasterizedLocally"
	}
}

// ParseGlyphsRasterizationMode maps a wire name onto a mode. Unknown names
// fall back to IdeographsRasterizedLocally.
func ParseGlyphsRasterizationMode(s string) GlyphsRasterizationMode {
	switch s {
	case "noGlyphsRasterizedLocally":
		return NoGlyphsRasterizedLocally
	case "allGlyphsRasterizedLocally":
		return AllGlyphsRasterizedLocally
	default:
		return IdeographsRasterizedLocally
	}
}

// StyleDefinition describes the style pack that accompanies a tile region.
type StyleDefinition struct {
	MapStyleURL string
	Mode        GlyphsRasterizationMode
	Metadata    map[string]string
}
