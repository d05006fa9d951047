// Package auth holds the revert gate's credential check and the
// session-scoped attempt bookkeeping around it. The order engine itself
// stays stateless between calls.
package auth

import "crypto/subtle"

// SecretVerifier checks the shared revert secret. It is an interface so the
// credential can be rotated or moved to a secret store without touching the
// state machine.
type SecretVerifier interface {
	Verify(candidate string) bool
}

type staticSecret struct {
	secret []byte
}

// NewStaticSecret verifies against a fixed secret, typically loaded from the
// environment. Comparison is constant-time.
func NewStaticSecret(secret string) SecretVerifier {
	return &staticSecret{secret: []byte(secret)}
}

func (v *staticSecret) Verify(candidate string) bool {
	if len(v.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(v.secret, []byte(candidate)) == 1
}
