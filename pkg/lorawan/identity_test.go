package lorawan

import (
	"encoding/json"
	"net/netip"
	"testing"
)

func sampleIdentity() NetworkIdentity {
	n := NetworkIdentity{DevAddr: DevAddr{0x01, 0x02, 0x03, 0x04}}
	n.DevEUI = EUI64{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}
	n.Activation = OTAA
	n.Class = ClassC
	for i := range n.NwkSKey {
		n.NwkSKey[i] = byte(i)
		n.AppSKey[i] = byte(0xf0 + i)
		n.AppKey[i] = byte(0x10 + i)
		n.NwkKey[i] = byte(0x20 + i)
	}
	n.Version = NewVersion(1, 0, 3)
	n.AppEUI = EUI64{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe}
	n.DevNonce = 0xffff
	n.JoinNonce = 0xffffff
	copy(n.Name[:], "sensor01")
	return n
}

func TestNetworkIdentityRoundTrip(t *testing.T) {
	in := sampleIdentity()
	buf := make([]byte, NetworkIdentitySize)
	if n := in.Encode(buf); n != NetworkIdentitySize {
		t.Fatalf("Encode() = %d, want %d", n, NetworkIdentitySize)
	}

	var out NetworkIdentity
	if n := out.Decode(buf); n != NetworkIdentitySize {
		t.Fatalf("Decode() = %d, want %d", n, NetworkIdentitySize)
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestDeviceIdentityLayout(t *testing.T) {
	in := sampleIdentity()
	buf := make([]byte, DeviceIdentitySize)
	in.DeviceIdentity.Encode(buf)

	if buf[8] != byte(OTAA) || buf[9] != byte(ClassC) {
		t.Fatalf("activation/class bytes = %x %x", buf[8], buf[9])
	}
	if buf[42] != 0x43 {
		t.Fatalf("version byte = %#x, want 0x43", buf[42])
	}
	if buf[83] != 0xff || buf[84] != 0xff {
		t.Fatalf("devNonce bytes = %x", buf[83:85])
	}
	if buf[85] != 0xff || buf[86] != 0xff || buf[87] != 0xff {
		t.Fatalf("joinNonce bytes = %x", buf[85:88])
	}
	if string(buf[88:96]) != "sensor01" {
		t.Fatalf("name bytes = %q", buf[88:96])
	}
}

func TestNetworkIdentityTruncated(t *testing.T) {
	in := sampleIdentity()
	full := make([]byte, NetworkIdentitySize)
	in.Encode(full)

	for l := 0; l < NetworkIdentitySize; l++ {
		var out NetworkIdentity
		out.DevEUI = EUI64{1}
		if n := out.Decode(full[:l]); n != 0 {
			t.Fatalf("Decode(len %d) = %d, want 0", l, n)
		}
		if out != (NetworkIdentity{}) {
			t.Fatalf("Decode(len %d) left non-zero value %+v", l, out)
		}
		if n := in.Encode(make([]byte, l)); n != 0 {
			t.Fatalf("Encode(len %d) = %d, want 0", l, n)
		}
	}
}

func TestVersion(t *testing.T) {
	tests := []struct {
		in   string
		want Version
	}{
		{"1.0.0", 0x40},
		{"1.0.3", 0x43},
		{"1.1.0", 0x50},
		{"3.3.15", 0xff},
		{"0.0.0", 0},
	}
	for _, tt := range tests {
		v, err := ParseVersion(tt.in)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tt.in, err)
		}
		if v != tt.want {
			t.Fatalf("ParseVersion(%q) = %#x, want %#x", tt.in, v, tt.want)
		}
		if v.String() != tt.in {
			t.Fatalf("String() = %q, want %q", v.String(), tt.in)
		}
	}
	for _, bad := range []string{"1.0", "4.0.0", "1.4.0", "1.0.16", "a.b.c"} {
		if _, err := ParseVersion(bad); err == nil {
			t.Fatalf("ParseVersion(%q) succeeded", bad)
		}
	}
}

func TestNetworkIdentityJSON(t *testing.T) {
	in := sampleIdentity()
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out NetworkIdentity
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal(%s): %v", data, err)
	}
	if out != in {
		t.Fatalf("json round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestGatewayIdentityRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		gw   GatewayIdentity
		size int
	}{
		{"no address", GatewayIdentity{ID: EUI64{1, 2, 3, 4, 5, 6, 7, 8}}, 8},
		{"ipv4", GatewayIdentity{ID: EUI64{0xff}, Addr: netip.MustParseAddrPort("10.2.0.1:1700")}, 15},
		{"ipv6", GatewayIdentity{ID: EUI64{0, 0, 0, 0, 0, 0, 0, 1}, Addr: netip.MustParseAddrPort("[2001:db8::1]:65535")}, 27},
		{"zero id", GatewayIdentity{Addr: netip.MustParseAddrPort("84.237.104.128:0")}, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, GatewayIdentityMaxSize)
			if n := tt.gw.Encode(buf); n != tt.size {
				t.Fatalf("Encode() = %d, want %d", n, tt.size)
			}
			var out GatewayIdentity
			if n := out.Decode(buf[:tt.size]); n != tt.size {
				t.Fatalf("Decode() = %d, want %d", n, tt.size)
			}
			if out != tt.gw {
				t.Fatalf("got %v, want %v", out, tt.gw)
			}
		})
	}
}

func TestGatewayIdentityTruncated(t *testing.T) {
	var g GatewayIdentity
	for l := 0; l < GatewayIdentityMinSize; l++ {
		if n := g.Decode(make([]byte, l)); n != 0 {
			t.Fatalf("Decode(len %d) = %d, want 0", l, n)
		}
	}

	// a partial address is ignored, the id alone is consumed
	gw := GatewayIdentity{ID: EUI64{9}, Addr: netip.MustParseAddrPort("127.0.0.1:4242")}
	buf := make([]byte, 15)
	gw.Encode(buf)
	if n := g.Decode(buf[:12]); n != 8 || g.Addr.IsValid() {
		t.Fatalf("Decode(partial) = %d, %v", n, g)
	}
}

func TestDecodeSockAddrUnknownFamily(t *testing.T) {
	if _, n := DecodeSockAddr([]byte{99, 0, 1, 2, 3, 4, 5}); n != 0 {
		t.Fatalf("unknown family consumed %d bytes", n)
	}
}

func TestParseHex(t *testing.T) {
	e, err := ParseEUI64("0x0011223344556677")
	if err != nil || e != (EUI64{0, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}) {
		t.Fatalf("ParseEUI64 = %v, %v", e, err)
	}
	if _, err := ParseEUI64("0011"); err == nil {
		t.Fatal("short EUI accepted")
	}
	a, err := ParseDevAddr("01020304")
	if err != nil || a.Uint32() != 0x01020304 {
		t.Fatalf("ParseDevAddr = %v, %v", a, err)
	}
	if DevAddrFromUint32(0x01020304) != a {
		t.Fatal("DevAddrFromUint32 mismatch")
	}
	if EUI64FromUint64(e.Uint64()) != e {
		t.Fatal("EUI64FromUint64 mismatch")
	}
}
