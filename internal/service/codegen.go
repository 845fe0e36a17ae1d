package service

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/propnest/propnest-backend/internal/domain"
)

// CodeGenerator produces one-time codes.
type CodeGenerator func() (string, error)

var codeSpace = big.NewInt(1_000_000)

// GenerateCode draws a uniformly distributed 6-digit code from crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", domain.CodeLength, n.Int64()), nil
}

// isCode reports whether s is exactly CodeLength ASCII digits.
func isCode(s string) bool {
	if len(s) != domain.CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
