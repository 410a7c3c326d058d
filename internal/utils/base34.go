package utils

import (
	"crypto/rand"
	"fmt"
)

// base34 drops I and O, which read like 1 and 0.
const base34Table = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// largest multiple of 34 below 256, bytes above it are redrawn
const base34Limit = 256 - 256%len(base34Table)

// RandBase34 returns a random code of the given length drawn uniformly from
// the base34 alphabet.
func RandBase34(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid length: %d", length)
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= base34Limit {
				continue
			}
			out = append(out, base34Table[int(b)%len(base34Table)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
