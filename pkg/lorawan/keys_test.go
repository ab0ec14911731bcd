package lorawan

import (
	"crypto/aes"
	"testing"
)

func TestDeriveSessionKeys10(t *testing.T) {
	appKey := AES128Key{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}
	joinNonce := [3]byte{0x01, 0x02, 0x03}
	netID := [3]byte{0x00, 0x00, 0x13}

	nwk, app, err := DeriveSessionKeys10(appKey, joinNonce, netID, 0x0a0b)
	if err != nil {
		t.Fatal(err)
	}
	if nwk == app {
		t.Fatal("session keys must differ")
	}

	block, _ := aes.NewCipher(appKey[:])
	msg := []byte{0x01, 0x01, 0x02, 0x03, 0x00, 0x00, 0x13, 0x0b, 0x0a, 0, 0, 0, 0, 0, 0, 0}
	var want AES128Key
	block.Encrypt(want[:], msg)
	if nwk != want {
		t.Fatalf("NwkSKey = %s, want %s", nwk, want)
	}

	nwk2, _, _ := DeriveSessionKeys10(appKey, joinNonce, netID, 0x0a0c)
	if nwk2 == nwk {
		t.Fatal("DevNonce must change the session keys")
	}
}
