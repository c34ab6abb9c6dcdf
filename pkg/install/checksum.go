package install

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// decodeSHA256 accepts a hex or base64 encoded SHA-256 digest
func decodeSHA256(s string) ([]byte, error) {
	clean := strings.TrimSpace(s)
	if clean == "" {
		return nil, fmt.Errorf("empty checksum string")
	}

	if decoded, err := hex.DecodeString(clean); err == nil && len(decoded) == 32 {
		return decoded, nil
	}

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(clean); err == nil && len(decoded) == 32 {
			return decoded, nil
		}
	}

	return nil, fmt.Errorf("unsupported checksum encoding")
}

// checksumMatches compares an expected digest string against a computed digest
// in constant time
func checksumMatches(expected string, actual []byte) bool {
	decoded, err := decodeSHA256(expected)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(decoded, actual) == 1
}

// parseChecksumFile finds the digest for name in a sha256sums listing
// ("<hex>  <file>" per line)
func parseChecksumFile(data []byte, name string) (string, error) {
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if strings.TrimPrefix(fields[1], "*") == name {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("no checksum listed for %s", name)
}
