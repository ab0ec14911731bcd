package storage

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// Common errors
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrInvalidData       = errors.New("invalid data")
	ErrReadOnly          = errors.New("read only storage")
	ErrClosed            = errors.New("storage closed")
	ErrUnavailable       = errors.New("storage unavailable")
	ErrUnsupportedOption = errors.New("unsupported option")
)

// IdentityService stores device identities keyed by network address
type IdentityService interface {
	// Get returns the identity bound to addr
	Get(ctx context.Context, addr lorawan.DevAddr) (lorawan.NetworkIdentity, error)
	// GetNetworkIdentity looks an identity up by device EUI
	GetNetworkIdentity(ctx context.Context, eui lorawan.EUI64) (lorawan.NetworkIdentity, error)
	// Put binds an identity to its address, replacing any previous binding.
	// The same device EUI may be bound to several addresses; lookups by EUI
	// resolve to the most recent assignment.
	Put(ctx context.Context, identity lorawan.NetworkIdentity) error
	// Remove deletes by address, or by EUI when the address is zero.
	// By EUI it deletes the binding GetNetworkIdentity would return.
	Remove(ctx context.Context, identity lorawan.NetworkIdentity) error
	// List returns up to size identities ordered by address, skipping offset
	List(ctx context.Context, offset uint32, size uint8) ([]lorawan.NetworkIdentity, error)
	Size(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
	Close() error
	SetOption(key, value string) error
}

// GatewayService stores gateway addresses keyed by gateway id
type GatewayService interface {
	Get(ctx context.Context, id lorawan.EUI64) (lorawan.GatewayIdentity, error)
	// GetByAddress scans for the first gateway (by id order) with addr
	GetByAddress(ctx context.Context, addr netip.AddrPort) (lorawan.GatewayIdentity, error)
	Put(ctx context.Context, gateway lorawan.GatewayIdentity) error
	// Remove deletes by id, or every gateway with the address when the id is zero
	Remove(ctx context.Context, gateway lorawan.GatewayIdentity) error
	List(ctx context.Context, offset uint32, size uint8) ([]lorawan.GatewayIdentity, error)
	Size(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
	Close() error
	SetOption(key, value string) error
}

// Options configures a backend
type Options struct {
	// DSN is the PostgreSQL connection string
	DSN string
	// Path is the database or snapshot file
	Path string
	// NetID selects the address range of generated identities, hex
	NetID string
	// MasterKey seeds generated keys
	MasterKey string
	// Extra is passed to SetOption after construction
	Extra map[string]string
}

func validIdentity(n *lorawan.NetworkIdentity) error {
	if n.DevAddr.IsZero() || n.DevEUI.IsZero() {
		return ErrInvalidData
	}
	if n.JoinNonce > lorawan.MaxJoinNonce {
		return fmt.Errorf("%w: join nonce %#x exceeds 24 bits", ErrInvalidData, n.JoinNonce)
	}
	return nil
}

func validGateway(g *lorawan.GatewayIdentity) error {
	if g.ID.IsZero() || !g.Addr.IsValid() {
		return ErrInvalidData
	}
	return nil
}

// sameAddr compares addresses ignoring IPv4-in-IPv6 mapping
func sameAddr(a, b netip.AddrPort) bool {
	return a.Port() == b.Port() && a.Addr().Unmap() == b.Addr().Unmap()
}

// ApplyOptions passes every extra option to set
func ApplyOptions(extra map[string]string, set func(key, value string) error) error {
	for k, v := range extra {
		if err := set(k, v); err != nil {
			return err
		}
	}
	return nil
}
