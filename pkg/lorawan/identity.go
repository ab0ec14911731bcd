package lorawan

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DeviceIdentitySize is the encoded size of DeviceIdentity
	DeviceIdentitySize = 96
	// NetworkIdentitySize is the encoded size of NetworkIdentity
	NetworkIdentitySize = DevAddrSize + DeviceIdentitySize
	// DeviceNameSize is the fixed width of a device name
	DeviceNameSize = 8
	// MaxJoinNonce is the largest JoinNonce, it is 3 bytes on the wire
	MaxJoinNonce = 0xffffff
)

// ActivationMode is the way a device joined the network
type ActivationMode byte

const (
	ABP  ActivationMode = 0
	OTAA ActivationMode = 1
)

func (m ActivationMode) String() string {
	switch m {
	case ABP:
		return "ABP"
	case OTAA:
		return "OTAA"
	}
	return strconv.Itoa(int(m))
}

// MarshalText implements encoding.TextMarshaler
func (m ActivationMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *ActivationMode) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "ABP", "":
		*m = ABP
	case "OTAA":
		*m = OTAA
	default:
		return fmt.Errorf("unknown activation mode %q", text)
	}
	return nil
}

// DeviceClass is the LoRaWAN device class
type DeviceClass byte

const (
	ClassA DeviceClass = 0
	ClassB DeviceClass = 1
	ClassC DeviceClass = 2
)

func (c DeviceClass) String() string {
	switch c {
	case ClassA:
		return "A"
	case ClassB:
		return "B"
	case ClassC:
		return "C"
	}
	return strconv.Itoa(int(c))
}

// MarshalText implements encoding.TextMarshaler
func (c DeviceClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *DeviceClass) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "A", "":
		*c = ClassA
	case "B":
		*c = ClassB
	case "C":
		*c = ClassC
	default:
		return fmt.Errorf("unknown device class %q", text)
	}
	return nil
}

// Version is a packed LoRaWAN version: major(2 bits), minor(2 bits), release(4 bits)
type Version byte

// NewVersion packs a version triple
func NewVersion(major, minor, release byte) Version {
	return Version((major&0x3)<<6 | (minor&0x3)<<4 | release&0xf)
}

func (v Version) Major() byte   { return byte(v) >> 6 }
func (v Version) Minor() byte   { return (byte(v) >> 4) & 0x3 }
func (v Version) Release() byte { return byte(v) & 0xf }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Release())
}

// MarshalText implements encoding.TextMarshaler
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVersion parses "major.minor.release"
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return 0, nil
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	var n [3]byte
	limits := [3]int{3, 3, 15}
	for i, p := range parts {
		x, err := strconv.Atoi(p)
		if err != nil || x < 0 || x > limits[i] {
			return 0, fmt.Errorf("invalid version %q", s)
		}
		n[i] = byte(x)
	}
	return NewVersion(n[0], n[1], n[2]), nil
}

// DeviceName is a fixed width, zero padded name
type DeviceName [DeviceNameSize]byte

func (n DeviceName) String() string {
	return string(bytes.TrimRight(n[:], "\x00"))
}

// MarshalText implements encoding.TextMarshaler
func (n DeviceName) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (n *DeviceName) UnmarshalText(text []byte) error {
	if len(text) > DeviceNameSize {
		return fmt.Errorf("device name %q longer than %d bytes", text, DeviceNameSize)
	}
	*n = DeviceName{}
	copy(n[:], text)
	return nil
}

// DeviceIdentity holds everything known about a device except its address
type DeviceIdentity struct {
	DevEUI     EUI64          `json:"devEUI"`
	Activation ActivationMode `json:"activation"`
	Class      DeviceClass    `json:"class"`
	NwkSKey    AES128Key      `json:"nwkSKey"`
	AppSKey    AES128Key      `json:"appSKey"`
	Version    Version        `json:"version"`
	AppEUI     EUI64          `json:"appEUI"`
	AppKey     AES128Key      `json:"appKey"`
	NwkKey     AES128Key      `json:"nwkKey"`
	DevNonce   uint16         `json:"devNonce"`
	JoinNonce  uint32         `json:"joinNonce"` // up to MaxJoinNonce
	Name       DeviceName     `json:"name"`
}

// Encode writes the identity into b and returns the number of bytes written,
// or 0 when b is too small.
//
//	 0  devEUI      8
//	 8  activation  1
//	 9  class       1
//	10  nwkSKey    16
//	26  appSKey    16
//	42  version     1
//	43  appEUI      8
//	51  appKey     16
//	67  nwkKey     16
//	83  devNonce    2
//	85  joinNonce   3
//	88  name        8
func (d *DeviceIdentity) Encode(b []byte) int {
	if len(b) < DeviceIdentitySize {
		return 0
	}
	copy(b[0:8], d.DevEUI[:])
	b[8] = byte(d.Activation)
	b[9] = byte(d.Class)
	copy(b[10:26], d.NwkSKey[:])
	copy(b[26:42], d.AppSKey[:])
	b[42] = byte(d.Version)
	copy(b[43:51], d.AppEUI[:])
	copy(b[51:67], d.AppKey[:])
	copy(b[67:83], d.NwkKey[:])
	ByteOrder.PutUint16(b[83:85], d.DevNonce)
	b[85] = byte(d.JoinNonce >> 16)
	b[86] = byte(d.JoinNonce >> 8)
	b[87] = byte(d.JoinNonce)
	copy(b[88:96], d.Name[:])
	return DeviceIdentitySize
}

// Decode reads the identity from b and returns the number of bytes consumed.
// A short buffer yields 0 and a zero identity.
func (d *DeviceIdentity) Decode(b []byte) int {
	*d = DeviceIdentity{}
	if len(b) < DeviceIdentitySize {
		return 0
	}
	copy(d.DevEUI[:], b[0:8])
	d.Activation = ActivationMode(b[8])
	d.Class = DeviceClass(b[9])
	copy(d.NwkSKey[:], b[10:26])
	copy(d.AppSKey[:], b[26:42])
	d.Version = Version(b[42])
	copy(d.AppEUI[:], b[43:51])
	copy(d.AppKey[:], b[51:67])
	copy(d.NwkKey[:], b[67:83])
	d.DevNonce = ByteOrder.Uint16(b[83:85])
	d.JoinNonce = uint32(b[85])<<16 | uint32(b[86])<<8 | uint32(b[87])
	copy(d.Name[:], b[88:96])
	return DeviceIdentitySize
}

// NetworkIdentity is a device identity bound to a network address
type NetworkIdentity struct {
	DevAddr DevAddr `json:"addr"`
	DeviceIdentity
}

// Encode writes addr followed by the device identity
func (n *NetworkIdentity) Encode(b []byte) int {
	if len(b) < NetworkIdentitySize {
		return 0
	}
	copy(b[0:4], n.DevAddr[:])
	return DevAddrSize + n.DeviceIdentity.Encode(b[DevAddrSize:])
}

// Decode reads addr followed by the device identity
func (n *NetworkIdentity) Decode(b []byte) int {
	*n = NetworkIdentity{}
	if len(b) < NetworkIdentitySize {
		return 0
	}
	copy(n.DevAddr[:], b[0:4])
	return DevAddrSize + n.DeviceIdentity.Decode(b[DevAddrSize:])
}

func (n NetworkIdentity) String() string {
	return fmt.Sprintf("%s %s %s %s %s", n.DevAddr, n.DevEUI, n.Activation, n.Class, n.Name)
}
