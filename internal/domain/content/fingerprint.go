package content

import (
	"crypto/sha256"
	"strings"
)

// Fingerprint identifies normalized content for verdict caching. It is a
// 256-bit digest over the normalized text and the extracted URL, mention, and
// hashtag lists. List order is significant: the same URLs in a different
// order produce a different fingerprint. That is a deliberate design choice
// carried over from the fingerprint's definition, not an oversight.
type Fingerprint [sha256.Size]byte

// Field and element separators keep the digest unambiguous: fields are joined
// with NUL, list elements with SOH, so "a","bc" never collides with "ab","c".
const (
	fieldSep   = "\x00"
	elementSep = "\x01"
)

// FingerprintOf computes the cache fingerprint of normalized content.
func FingerprintOf(nc NormalizedContent) Fingerprint {
	h := sha256.New()
	h.Write([]byte(nc.NormalizedText))
	h.Write([]byte(fieldSep))
	h.Write([]byte(strings.Join(nc.URLs, elementSep)))
	h.Write([]byte(fieldSep))
	h.Write([]byte(strings.Join(nc.Mentions, elementSep)))
	h.Write([]byte(fieldSep))
	h.Write([]byte(strings.Join(nc.Hashtags, elementSep)))

	var fp Fingerprint
	h.Sum(fp[:0])
	return fp
}
