package normalizer

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
)

// Fingerprint hashes the normalized narrative together with the identifiers
// of whatever produced the result (model, version, label, template digest).
// Each part is length-prefixed so ("ab","c") and ("a","bc") never collide.
func Fingerprint(narrative string, ids ...string) string {
	h := sha256.New()
	writePart(h, NormalizeText(narrative))
	for _, id := range ids {
		writePart(h, id)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writePart(w io.Writer, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = w.Write(n[:])
	_, _ = io.WriteString(w, s)
}

// Digest returns the hex SHA-256 of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
