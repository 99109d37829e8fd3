package federation

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// CodeChallengeMethodS256 is the only PKCE method the flow emits.
const CodeChallengeMethodS256 = "S256"

// GenerateState returns 32 random bytes encoded base64url without padding.
func GenerateState() (string, error) {
	return randomToken(32)
}

// GeneratePKCEPair returns a code verifier and its S256 challenge.
func GeneratePKCEPair() (verifier, challenge string, err error) {
	verifier, err = randomToken(32)
	if err != nil {
		return "", "", err
	}
	return verifier, ComputeCodeChallenge(verifier), nil
}

// ComputeCodeChallenge derives the S256 challenge for verifier.
func ComputeCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// statesEqual compares in constant time. Empty values never match.
func statesEqual(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
