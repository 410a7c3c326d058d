package utils

const secretMask = "*****"

// MaskSecret keeps the first four bytes of s for log lines. Short secrets are
// masked completely.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return secretMask
	}
	return s[:4] + secretMask
}
