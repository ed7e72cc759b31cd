package service

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const tokenEntropyBytes = 32

// Digester computes the stored form of a token value. With a key the digest is
// a BLAKE2b-256 MAC, so leaked rows cannot be checked against guessed values.
type Digester struct {
	key []byte
}

func NewDigester(key string) (*Digester, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("qr token hash key longer than %d bytes", blake2b.Size)
	}
	// try the key once so Digest cannot fail later
	if _, err := blake2b.New256([]byte(key)); err != nil {
		return nil, err
	}
	return &Digester{key: []byte(key)}, nil
}

func (d *Digester) Digest(value string) string {
	h, _ := blake2b.New256(d.key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

func newTokenValue() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// wellFormed rejects values that could never have been issued before touching storage.
func wellFormed(value string) bool {
	if len(value) != base64.RawURLEncoding.EncodedLen(tokenEntropyBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(value)
	return err == nil
}
