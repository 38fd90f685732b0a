package digest

// TreeHexLen is the length of a hex-encoded tree digest.
const TreeHexLen = 40

// SHA256HexLen is the length of a hex-encoded SHA-256 digest.
const SHA256HexLen = 64

// ValidTree reports whether s is a well-formed tree digest: exactly 40
// lowercase hex characters.
func ValidTree(s string) bool {
	return len(s) == TreeHexLen && isLowerHex(s)
}

// ValidSHA256 reports whether s is a well-formed SHA-256 digest: exactly 64
// lowercase hex characters.
func ValidSHA256(s string) bool {
	return len(s) == SHA256HexLen && isLowerHex(s)
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
