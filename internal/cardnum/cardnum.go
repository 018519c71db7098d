// Package cardnum generates and validates card identifiers.
//
// An identifier is the concatenation of the cardholder initials, the issuer
// segment, two random uppercase letters, a seven digit numeric body and one
// decimal Luhn check digit. Letters participate in the checksum through
// alphanumeric expansion: each letter maps to ord(letter)-ord('A')+10 and
// contributes both decimal digits of that value.
package cardnum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

const (
	initialsLen = 2
	lettersLen  = 2
	bodyLen     = 7

	// maxAttempts bounds the uniqueness retry loop. Exhausting it is
	// fatal for the attempt and needs operator attention, not a retry.
	maxAttempts = 10
)

// ErrExhaustedRetries is returned when no unique identifier could be
// produced within the attempt budget.
var ErrExhaustedRetries = errors.New("card number generation exhausted retries")

// TakenFunc reports whether a candidate identifier already exists within
// the issuer segment.
type TakenFunc func(ctx context.Context, number string) (bool, error)

// Codec produces and validates card identifiers for one card program.
type Codec struct {
	segmentLen int
	rand       io.Reader
}

// NewCodec initializes a codec for issuer segments of the given length,
// drawing randomness from r.
func NewCodec(segmentLen int, r io.Reader) *Codec {
	return &Codec{segmentLen: segmentLen, rand: r}
}

// Generate produces a unique card identifier for the given issuer segment
// and holder initials. Uniqueness is checked through taken; generation is
// retried up to a bounded number of attempts before ErrExhaustedRetries.
func (c *Codec) Generate(ctx context.Context, issuerSegment, holderInitials string, taken TakenFunc) (string, error) {
	if len(issuerSegment) != c.segmentLen || !isUpperAlnum(issuerSegment) {
		return "", fmt.Errorf("invalid issuer segment %q: want %d uppercase alphanumeric characters", issuerSegment, c.segmentLen)
	}
	if len(holderInitials) != initialsLen || !isUpperAlpha(holderInitials) {
		return "", fmt.Errorf("invalid holder initials %q: want %d uppercase letters", holderInitials, initialsLen)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		letters, err := c.randomLetters(lettersLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate random letters: %w", err)
		}
		body, err := c.randomDigits(bodyLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate random digits: %w", err)
		}

		base := holderInitials + issuerSegment + letters + body
		number := base + string(CheckDigit(base))

		exists, err := taken(ctx, number)
		if err != nil {
			return "", fmt.Errorf("uniqueness check failed: %w", err)
		}
		if !exists {
			return number, nil
		}
	}

	return "", ErrExhaustedRetries
}

// Validate recomputes the check digit from the identifier's other characters
// and compares. The comparison runs over the full identifier regardless of
// where a mismatch appears.
func (c *Codec) Validate(number string) bool {
	wantLen := initialsLen + c.segmentLen + lettersLen + bodyLen + 1
	if len(number) != wantLen {
		return false
	}
	base, check := number[:len(number)-1], number[len(number)-1]
	if !isUpperAlnum(base) || !unicode.IsDigit(rune(check)) {
		return false
	}
	mismatch := byte(0)
	mismatch |= CheckDigit(base) ^ check
	return mismatch == 0
}

// CheckDigit computes the Luhn check digit over the alphanumeric expansion
// of base.
func CheckDigit(base string) byte {
	digits := expand(base)
	sum := 0
	double := true // rightmost expanded digit is doubled
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte((sum*9)%10) + '0'
}

// expand maps letters to their two-digit numeric values and keeps digits
// as-is, producing an all-numeric string.
func expand(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			v := int(r-'A') + 10
			b.WriteByte(byte(v/10) + '0')
			b.WriteByte(byte(v%10) + '0')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (c *Codec) randomLetters(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, v := range buf {
		b.WriteByte(v%26 + 'A')
	}
	return b.String(), nil
}

func (c *Codec) randomDigits(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, v := range buf {
		b.WriteByte(v%10 + '0')
	}
	return b.String(), nil
}

func isUpperAlnum(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func isUpperAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
