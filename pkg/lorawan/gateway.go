package lorawan

import (
	"fmt"
	"net/netip"
)

// Socket address families as carried on the wire
const (
	FamilyIPv4 byte = 2
	FamilyIPv6 byte = 10
)

const (
	sockAddr4Size = 1 + 2 + 4
	sockAddr6Size = 1 + 2 + 16

	// GatewayIdentityMinSize is the id without an address
	GatewayIdentityMinSize = EUI64Size
	// GatewayIdentityMaxSize is the id with an IPv6 address
	GatewayIdentityMaxSize = EUI64Size + sockAddr6Size
)

// SockAddrSize returns the encoded size of addr: 0 when unset, 7 for IPv4, 19 for IPv6
func SockAddrSize(addr netip.AddrPort) int {
	if !addr.IsValid() {
		return 0
	}
	if addr.Addr().Unmap().Is4() {
		return sockAddr4Size
	}
	return sockAddr6Size
}

// EncodeSockAddr writes family(1) + port(2) + address(4|16).
// An unset address writes nothing.
func EncodeSockAddr(b []byte, addr netip.AddrPort) int {
	size := SockAddrSize(addr)
	if size == 0 || len(b) < size {
		return 0
	}
	ip := addr.Addr().Unmap()
	ByteOrder.PutUint16(b[1:3], addr.Port())
	if ip.Is4() {
		b[0] = FamilyIPv4
		a := ip.As4()
		copy(b[3:7], a[:])
	} else {
		b[0] = FamilyIPv6
		a := ip.As16()
		copy(b[3:19], a[:])
	}
	return size
}

// DecodeSockAddr reads a socket address. Unknown families and short buffers consume nothing.
func DecodeSockAddr(b []byte) (netip.AddrPort, int) {
	if len(b) < 1 {
		return netip.AddrPort{}, 0
	}
	switch b[0] {
	case FamilyIPv4:
		if len(b) < sockAddr4Size {
			return netip.AddrPort{}, 0
		}
		ip := netip.AddrFrom4([4]byte(b[3:7]))
		return netip.AddrPortFrom(ip, ByteOrder.Uint16(b[1:3])), sockAddr4Size
	case FamilyIPv6:
		if len(b) < sockAddr6Size {
			return netip.AddrPort{}, 0
		}
		ip := netip.AddrFrom16([16]byte(b[3:19]))
		return netip.AddrPortFrom(ip, ByteOrder.Uint16(b[1:3])), sockAddr6Size
	}
	return netip.AddrPort{}, 0
}

// GatewayIdentity binds a gateway EUI to its network address
type GatewayIdentity struct {
	ID   EUI64          `json:"gwid"`
	Addr netip.AddrPort `json:"addr"`
}

// Size returns the encoded size
func (g *GatewayIdentity) Size() int {
	return EUI64Size + SockAddrSize(g.Addr)
}

// Encode writes id(8) followed by the socket address
func (g *GatewayIdentity) Encode(b []byte) int {
	if len(b) < g.Size() {
		return 0
	}
	copy(b[0:8], g.ID[:])
	return EUI64Size + EncodeSockAddr(b[EUI64Size:], g.Addr)
}

// Decode reads id(8) and, when present, the socket address
func (g *GatewayIdentity) Decode(b []byte) int {
	*g = GatewayIdentity{}
	if len(b) < GatewayIdentityMinSize {
		return 0
	}
	copy(g.ID[:], b[0:8])
	addr, n := DecodeSockAddr(b[EUI64Size:])
	g.Addr = addr
	return EUI64Size + n
}

func (g GatewayIdentity) String() string {
	if !g.Addr.IsValid() {
		return g.ID.String()
	}
	return fmt.Sprintf("%s %s", g.ID, g.Addr)
}
