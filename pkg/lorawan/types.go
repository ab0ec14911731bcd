package lorawan

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// ByteOrder is the order of every multi-byte scalar on the wire.
// Byte arrays (EUIs, addresses, keys) are kept most significant byte first,
// so they are copied as-is.
var ByteOrder = binary.BigEndian

const (
	EUI64Size     = 8
	DevAddrSize   = 4
	AES128KeySize = 16
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// IsZero reports whether all bytes are zero
func (e EUI64) IsZero() bool {
	return e == EUI64{}
}

// Uint64 returns the EUI as a number
func (e EUI64) Uint64() uint64 {
	return ByteOrder.Uint64(e[:])
}

// EUI64FromUint64 builds an EUI from its numeric value
func EUI64FromUint64(v uint64) EUI64 {
	var e EUI64
	ByteOrder.PutUint64(e[:], v)
	return e
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (e *EUI64) UnmarshalJSON(data []byte) error {
	return unmarshalHexJSON(data, e[:])
}

// ParseEUI64 parses a 16 digit hex string
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64
	err := decodeHex(s, e[:])
	return e, err
}

// DevAddr represents a 4-byte device address
type DevAddr [4]byte

// String returns hex string representation
func (d DevAddr) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the address is unset
func (d DevAddr) IsZero() bool {
	return d == DevAddr{}
}

// Uint32 returns the address as a number
func (d DevAddr) Uint32() uint32 {
	return ByteOrder.Uint32(d[:])
}

// DevAddrFromUint32 builds an address from its numeric value
func DevAddrFromUint32(v uint32) DevAddr {
	var d DevAddr
	ByteOrder.PutUint32(d[:], v)
	return d
}

// MarshalJSON implements json.Marshaler
func (d DevAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DevAddr) UnmarshalJSON(data []byte) error {
	return unmarshalHexJSON(data, d[:])
}

// ParseDevAddr parses an 8 digit hex string
func ParseDevAddr(s string) (DevAddr, error) {
	var d DevAddr
	err := decodeHex(s, d[:])
	return d, err
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// String returns hex string representation
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalJSON implements json.Marshaler
func (k AES128Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (k *AES128Key) UnmarshalJSON(data []byte) error {
	return unmarshalHexJSON(data, k[:])
}

// ParseAES128Key parses a 32 digit hex string
func ParseAES128Key(s string) (AES128Key, error) {
	var k AES128Key
	err := decodeHex(s, k[:])
	return k, err
}

func decodeHex(s string, dst []byte) error {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("invalid length %d, expected %d bytes", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

func unmarshalHexJSON(data []byte, dst []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	// 空字符串视为零值
	if s == "" {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	return decodeHex(s, dst)
}
