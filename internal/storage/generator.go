package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	lw "github.com/brocaar/lorawan"

	"github.com/commandus/lorawan-storage-sub000/pkg/crypto"
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// nwkAddrBits is the NwkAddr width per NetID type
var nwkAddrBits = [8]uint{25, 24, 20, 17, 15, 13, 10, 7}

// GeneratorIdentityService derives identities from an address instead of
// storing them. Every address of the NetID range has exactly one identity;
// keys are derived from the master key, so two instances with the same
// settings answer identically.
type GeneratorIdentityService struct {
	mu        sync.RWMutex
	netID     lw.NetID
	master    []byte
	euiPrefix [4]byte
	closed    bool
}

// NewGeneratorIdentityService creates a read-only generator for netID (hex)
func NewGeneratorIdentityService(netID, masterKey string) (*GeneratorIdentityService, error) {
	s := &GeneratorIdentityService{}
	if err := s.SetOption("netid", netID); err != nil {
		return nil, err
	}
	if err := s.SetOption("key", masterKey); err != nil {
		return nil, err
	}
	return s, nil
}

// SetOption supports "netid" (6 hex digits) and "key" (master secret)
func (s *GeneratorIdentityService) SetOption(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case "netid":
		if value == "" {
			value = "000000"
		}
		var n lw.NetID
		if err := n.UnmarshalText([]byte(value)); err != nil {
			return fmt.Errorf("%w: netid %q: %v", ErrInvalidData, value, err)
		}
		s.netID = n
	case "key":
		if value == "" {
			return fmt.Errorf("%w: empty master key", ErrInvalidData)
		}
		s.master = []byte(value)
		prefix, err := crypto.DeriveKey(s.master, nil, []byte("deveui"), len(s.euiPrefix))
		if err != nil {
			return err
		}
		copy(s.euiPrefix[:], prefix)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOption, key)
	}
	return nil
}

func (s *GeneratorIdentityService) capacity() uint32 {
	return 1 << nwkAddrBits[s.netID.Type()]
}

// addrAt returns the address with NwkAddr n in the NetID range
func (s *GeneratorIdentityService) addrAt(n uint32) lorawan.DevAddr {
	var a lw.DevAddr
	lorawan.ByteOrder.PutUint32(a[:], n&(s.capacity()-1))
	a.SetAddrPrefix(s.netID)
	return lorawan.DevAddr(a)
}

// nwkAddr returns the NwkAddr of addr, false when it is out of range
func (s *GeneratorIdentityService) nwkAddr(addr lorawan.DevAddr) (uint32, bool) {
	if !lw.DevAddr(addr).IsNetID(s.netID) {
		return 0, false
	}
	return addr.Uint32() & (s.capacity() - 1), true
}

func (s *GeneratorIdentityService) generate(addr lorawan.DevAddr) (lorawan.NetworkIdentity, error) {
	n := lorawan.NetworkIdentity{DevAddr: addr}
	copy(n.DevEUI[:4], s.euiPrefix[:])
	copy(n.DevEUI[4:], addr[:])
	n.Activation = lorawan.ABP
	n.Class = lorawan.ClassA
	n.Version = lorawan.NewVersion(1, 0, 3)
	copy(n.AppEUI[:4], s.euiPrefix[:])
	copy(n.Name[:], hex.EncodeToString(addr[:]))

	keys := []struct {
		info string
		dst  *lorawan.AES128Key
	}{
		{"appKey", &n.AppKey},
		{"nwkKey", &n.NwkKey},
	}
	for _, k := range keys {
		key, err := crypto.DeriveKey16(s.master, addr[:], []byte(k.info))
		if err != nil {
			return n, err
		}
		*k.dst = key
	}

	// session keys as if the device had joined with JoinNonce = addr[1:4]
	var joinNonce [3]byte
	copy(joinNonce[:], addr[1:])
	devNonce := lorawan.ByteOrder.Uint16(addr[2:])
	var err error
	n.NwkSKey, n.AppSKey, err = lorawan.DeriveSessionKeys10(n.AppKey, joinNonce, s.netID, devNonce)
	return n, err
}

func (s *GeneratorIdentityService) Get(ctx context.Context, addr lorawan.DevAddr) (lorawan.NetworkIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return lorawan.NetworkIdentity{}, ErrClosed
	}
	if _, ok := s.nwkAddr(addr); !ok {
		return lorawan.NetworkIdentity{}, ErrNotFound
	}
	return s.generate(addr)
}

func (s *GeneratorIdentityService) GetNetworkIdentity(ctx context.Context, eui lorawan.EUI64) (lorawan.NetworkIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return lorawan.NetworkIdentity{}, ErrClosed
	}
	if [4]byte(eui[:4]) != s.euiPrefix {
		return lorawan.NetworkIdentity{}, ErrNotFound
	}
	addr := lorawan.DevAddr(eui[4:])
	if _, ok := s.nwkAddr(addr); !ok {
		return lorawan.NetworkIdentity{}, ErrNotFound
	}
	return s.generate(addr)
}

func (s *GeneratorIdentityService) Put(ctx context.Context, identity lorawan.NetworkIdentity) error {
	return ErrReadOnly
}

func (s *GeneratorIdentityService) Remove(ctx context.Context, identity lorawan.NetworkIdentity) error {
	return ErrReadOnly
}

// List returns generated identities in NwkAddr order
func (s *GeneratorIdentityService) List(ctx context.Context, offset uint32, size uint8) ([]lorawan.NetworkIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	list := make([]lorawan.NetworkIdentity, 0, size)
	for i := uint64(offset); i < uint64(s.capacity()) && len(list) < int(size); i++ {
		n, err := s.generate(s.addrAt(uint32(i)))
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, nil
}

// Size returns the number of addresses in the NetID range
func (s *GeneratorIdentityService) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return int(s.capacity()), nil
}

func (s *GeneratorIdentityService) Flush(ctx context.Context) error {
	return nil
}

func (s *GeneratorIdentityService) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
