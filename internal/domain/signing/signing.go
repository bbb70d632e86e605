// Package signing produces and verifies tamper-evident HMAC signatures
// over a reward calculation's immutable fields.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/okian/merit/internal/domain/model"
)

// defaultFreshness bounds how old a live calculation may be at
// verification time.
const defaultFreshness = 5 * time.Minute

// VerifyMode selects the freshness policy.
type VerifyMode int

const (
	// VerifyLive rejects calculations older than the freshness window.
	VerifyLive VerifyMode = iota
	// VerifyArchive skips the freshness check for stored historical
	// records.
	VerifyArchive
)

// Option applies a configuration option to the Signer.
type Option func(*Signer)

// WithFreshnessWindow overrides the live-verification freshness window.
func WithFreshnessWindow(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// Signer signs and verifies reward calculations with HMAC-SHA256 over a
// fixed, versioned canonical form. Safe for concurrent use.
type Signer struct {
	secret    []byte
	freshness time.Duration
}

// NewSigner builds a Signer from a non-empty secret.
func NewSigner(secret []byte, opts ...Option) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	s := &Signer{
		secret:    append([]byte(nil), secret...),
		freshness: defaultFreshness,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign computes the hex HMAC over the calculation's canonical form.
// Negative amounts are rejected before anything is signed.
func (s *Signer) Sign(calc *model.RewardCalculation) (string, error) {
	if calc == nil {
		return "", ErrNilCalculation
	}
	if calc.GrantedUSD < 0 || calc.NominalUSD < 0 {
		return "", fmt.Errorf("%w: granted %v nominal %v", ErrNegativeAmount, calc.GrantedUSD, calc.NominalUSD)
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(Canonicalize(calc)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature and compares it in constant time.
// A mismatch is an integrity failure, typed distinctly from not-found
// conditions so callers treat it as a security event. In live mode a
// calculation older than the freshness window fails even with a valid
// signature; archive mode skips that check, and in both modes the
// caller passes now explicitly.
func (s *Signer) Verify(calc *model.RewardCalculation, signature string, mode VerifyMode, now time.Time) error {
	if calc == nil {
		return ErrNilCalculation
	}
	if calc.GrantedUSD < 0 || calc.NominalUSD < 0 {
		return fmt.Errorf("%w: granted %v nominal %v", ErrNegativeAmount, calc.GrantedUSD, calc.NominalUSD)
	}
	if mode == VerifyLive {
		if age := now.Sub(calc.CalculatedAt); age > s.freshness {
			return fmt.Errorf("%w: calculated %s ago, window %s", ErrStaleCalculation, age.Round(time.Second), s.freshness)
		}
	}

	expected, err := s.Sign(calc)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}
