package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signals is the set of client characteristics the server can observe or the
// widget can report. Any field may be empty; an absent signal still occupies
// its slot in the digest so partial fingerprints stay comparable.
type Signals struct {
	IP               string
	UserAgent        string
	AcceptLanguage   string
	AcceptEncoding   string
	Accept           string
	ScreenResolution string
	Timezone         string
	CanvasHash       string
	WebGLRenderer    string
	Fonts            []string
}

const separator = "|"

// escaper makes the separators unambiguous: no escaped component can contain
// a raw "|" (slot separator) or "," (font list separator).
var escaper = strings.NewReplacer(`\`, `\\`, separator, `\|`, ",", `\,`)

// Build derives a deterministic digest from the signals. Components are
// escaped and joined in a fixed order, hashed with SHA-256, and hex-encoded.
// Identical inputs always produce identical output; missing components
// serialize as empty strings so the slot count never varies.
func Build(s Signals) string {
	components := []string{
		escaper.Replace(s.IP),
		escaper.Replace(s.UserAgent),
		escaper.Replace(s.AcceptLanguage),
		escaper.Replace(s.AcceptEncoding),
		escaper.Replace(s.Accept),
		escaper.Replace(s.ScreenResolution),
		escaper.Replace(s.Timezone),
		escaper.Replace(s.CanvasHash),
		escaper.Replace(s.WebGLRenderer),
		joinFonts(s.Fonts),
	}

	hash := sha256.Sum256([]byte(strings.Join(components, separator)))
	return hex.EncodeToString(hash[:])
}

// joinFonts escapes each font name and joins with commas; the result is
// already safe to embed as one slot.
func joinFonts(fonts []string) string {
	if len(fonts) == 0 {
		return ""
	}
	escaped := make([]string, len(fonts))
	for i, f := range fonts {
		escaped[i] = escaper.Replace(f)
	}
	return strings.Join(escaped, ",")
}
