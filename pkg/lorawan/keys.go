package lorawan

import (
	"crypto/aes"
)

// DeriveSessionKeys10 derives NwkSKey and AppSKey from the root key the way a
// LoRaWAN 1.0.x join does:
//
//	NwkSKey = aes128_encrypt(AppKey, 0x01 | JoinNonce | NetID | DevNonce | pad16)
//	AppSKey = aes128_encrypt(AppKey, 0x02 | JoinNonce | NetID | DevNonce | pad16)
//
// DevNonce goes in little-endian as on air.
func DeriveSessionKeys10(appKey AES128Key, joinNonce [3]byte, netID [3]byte, devNonce uint16) (nwkSKey, appSKey AES128Key, err error) {
	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return nwkSKey, appSKey, err
	}

	var msg [AES128KeySize]byte
	copy(msg[1:4], joinNonce[:])
	copy(msg[4:7], netID[:])
	msg[7] = byte(devNonce)
	msg[8] = byte(devNonce >> 8)

	msg[0] = 0x01
	block.Encrypt(nwkSKey[:], msg[:])
	msg[0] = 0x02
	block.Encrypt(appSKey[:], msg[:])
	return nwkSKey, appSKey, nil
}
