package auth

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// TokenLength is the length of every session token.
	TokenLength = 64

	// Pending codes are typed by hand from an email, so they are short.
	pendingCodeAlphabet = tokenAlphabet + ")(*&^%$#@!~"
	pendingCodeLength   = 10

	// SessionLifetime is fixed at issuance. There is no sliding renewal.
	SessionLifetime = 24 * time.Hour
)

// IssuedSession is a freshly minted token that has not been persisted yet.
type IssuedSession struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewToken returns a 64 character session token over A-Za-z0-9.
func NewToken() (string, error) {
	return randomString(tokenAlphabet, TokenLength)
}

// NewSessionToken mints a token valid from now until now+24h (UTC).
func NewSessionToken(now time.Time) (IssuedSession, error) {
	issued := now.UTC()
	expires := issued.Add(SessionLifetime)
	// time.Add saturates instead of wrapping, so an overflow shows up as no progress.
	if !expires.After(issued) || expires.Sub(issued) != SessionLifetime {
		return IssuedSession{}, fmt.Errorf("session expiry from %s: %w", issued.Format(time.RFC3339), ErrOverflow)
	}

	token, err := NewToken()
	if err != nil {
		return IssuedSession{}, err
	}
	return IssuedSession{Token: token, IssuedAt: issued, ExpiresAt: expires}, nil
}

// NewPendingCode returns a 10 character registration code.
func NewPendingCode() (string, error) {
	return randomString(pendingCodeAlphabet, pendingCodeLength)
}

// randomString draws size symbols from alphabet using crypto/rand.
// Bytes are masked to the next power of two and out-of-range values are
// discarded, so every symbol is equally likely.
func randomString(alphabet string, size int) (string, error) {
	mask := alphabetMask(len(alphabet))
	// Expected rejection rate is below half; 1.6x leaves headroom for one read.
	step := (size*mask*8/5)/len(alphabet) + 1

	out := make([]byte, size)
	buf := make([]byte, step)
	for pos := 0; pos < size; {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w: %w", ErrRNG, err)
		}
		for i := 0; i < step && pos < size; i++ {
			idx := int(buf[i]) & mask
			if idx < len(alphabet) {
				out[pos] = alphabet[idx]
				pos++
			}
		}
	}
	return string(out), nil
}

// alphabetMask returns the smallest 2^n-1 that covers every alphabet index.
func alphabetMask(n int) int {
	mask := 1
	for mask < n-1 {
		mask = mask<<1 | 1
	}
	return mask
}
