package booking

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

// Letters and digits that cannot be confused when read aloud.
const (
	referenceLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	referenceDigits  = "23456789"
)

var referencePattern = regexp.MustCompile(`^BK-(?:[A-Z][0-9]){3}$`)

// NewReference returns BK- followed by three letter/digit pairs, e.g.
// BK-K7Q2M9.
func NewReference() (string, error) {
	b := []byte("BK-")
	for i := 0; i < 3; i++ {
		l, err := pick(referenceLetters)
		if err != nil {
			return "", err
		}
		d, err := pick(referenceDigits)
		if err != nil {
			return "", err
		}
		b = append(b, l, d)
	}
	return string(b), nil
}

// ValidReference reports whether s has the shape NewReference produces.
func ValidReference(s string) bool {
	return referencePattern.MatchString(s)
}

func pick(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, err
	}
	return alphabet[n.Int64()], nil
}
