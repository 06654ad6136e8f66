package extract

import "strings"

// NormalizeMAC converts a MAC written with any of the common delimiters
// (dot, dash, colon, space or none) into upper-case colon-separated hex.
// Values that do not reduce to exactly 12 hex digits are returned unchanged.
func NormalizeMAC(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(12)
	for _, r := range raw {
		switch {
		case r == '.' || r == '-' || r == ':' || r == ' ':
			continue
		case isHex(r):
			b.WriteRune(r)
		default:
			return raw
		}
	}
	clean := strings.ToUpper(b.String())
	if len(clean) != 12 {
		return raw
	}

	out := make([]byte, 0, 17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, clean[i], clean[i+1])
	}
	return string(out)
}

// IsNormalizedMAC reports whether s is already in canonical form.
func IsNormalizedMAC(s string) bool {
	return len(s) == 17 && NormalizeMAC(s) == s
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
