package forge

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

////////////////////////////////////////////////////////////////////////////////
// Utilities
////////////////////////////////////////////////////////////////////////////////

func newID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

// tagSafeID maps an arbitrary revision onto a valid image tag segment:
// [A-Za-z0-9_.-] starting with a word character. Symbolic revisions
// (branch names with slashes, refs with ~ or ^) fall back to a content
// hash so distinct revisions never collapse onto one tag.
func tagSafeID(id string) string {
	safe := len(id) > 0 && isTagWordByte(id[0])
	if safe {
		for i := 0; i < len(id); i++ {
			c := id[i]
			if !isTagWordByte(c) && c != '.' && c != '-' {
				safe = false
				break
			}
		}
	}
	if safe {
		return shortID(id)
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:shortIDLength]
}

func isTagWordByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		return true
	default:
		return false
	}
}

func mustJSON(v any) []byte {
	b, _ := json.MarshalIndent(v, "", "  ")
	return b
}
