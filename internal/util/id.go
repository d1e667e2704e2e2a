package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// RandomSuffix returns n lowercase alphanumeric characters.
func RandomSuffix(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, n)
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			out[i] = suffixAlphabet[i%len(suffixAlphabet)]
			continue
		}
		out[i] = suffixAlphabet[idx.Int64()]
	}
	return string(out)
}
