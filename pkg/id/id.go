package id

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const base36Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DepositPrefix is prepended to every deposit id.
const DepositPrefix = "DEP"

// GenerateDepositID returns "DEP-" followed by 8 random uppercase base36 characters.
func GenerateDepositID() (string, error) {
	body, err := randomBase36(8)
	if err != nil {
		return "", err
	}
	return DepositPrefix + "-" + body, nil
}

// IsDepositID reports whether s has the shape produced by GenerateDepositID.
func IsDepositID(s string) bool {
	body, ok := strings.CutPrefix(s, DepositPrefix+"-")
	if !ok || len(body) != 8 {
		return false
	}
	for _, c := range body {
		if !strings.ContainsRune(base36Chars, c) {
			return false
		}
	}
	return true
}

func randomBase36(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36Chars)))
	for i := range out {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		out[i] = base36Chars[num.Int64()]
	}
	return string(out), nil
}
