package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into n bytes bound to info using HKDF-SHA256
func DeriveKey(secret, salt, info []byte, n int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty secret")
	}
	out := make([]byte, n)
	r := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveKey16 derives a 16 byte key, suitable for AES-128 session and root keys
func DeriveKey16(secret, salt, info []byte) ([16]byte, error) {
	var k [16]byte
	b, err := DeriveKey(secret, salt, info, len(k))
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

// GenerateRandomBytes generates random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateRandomHex generates n random bytes and returns them hex encoded
func GenerateRandomHex(n int) (string, error) {
	b, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
