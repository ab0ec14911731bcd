package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// MemoryIdentityService keeps identities in a map. When a snapshot file is
// set, it is loaded at start and rewritten on Flush.
type MemoryIdentityService struct {
	mu     sync.RWMutex
	byAddr map[lorawan.DevAddr]lorawan.NetworkIdentity
	byEUI  map[lorawan.EUI64]lorawan.DevAddr
	file   string
	closed bool
}

// NewMemoryIdentityService creates an empty store, or loads file when it exists
func NewMemoryIdentityService(file string) (*MemoryIdentityService, error) {
	s := &MemoryIdentityService{
		byAddr: make(map[lorawan.DevAddr]lorawan.NetworkIdentity),
		byEUI:  make(map[lorawan.EUI64]lorawan.DevAddr),
	}
	if err := s.SetOption("file", file); err != nil {
		return nil, err
	}
	return s, nil
}

// SetOption supports "file": snapshot path, loaded immediately when it exists
func (s *MemoryIdentityService) SetOption(key, value string) error {
	if key != "file" {
		return fmt.Errorf("%w: %s", ErrUnsupportedOption, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = value
	if value == "" {
		return nil
	}
	var list []lorawan.NetworkIdentity
	if err := loadSnapshot(value, &list); err != nil {
		return err
	}
	for _, n := range list {
		if validIdentity(&n) != nil {
			continue
		}
		s.byAddr[n.DevAddr] = n
		s.byEUI[n.DevEUI] = n.DevAddr
	}
	log.Debug().Str("file", value).Int("count", len(list)).Msg("Identities loaded")
	return nil
}

func (s *MemoryIdentityService) Get(ctx context.Context, addr lorawan.DevAddr) (lorawan.NetworkIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return lorawan.NetworkIdentity{}, ErrClosed
	}
	n, ok := s.byAddr[addr]
	if !ok {
		return lorawan.NetworkIdentity{}, ErrNotFound
	}
	return n, nil
}

func (s *MemoryIdentityService) GetNetworkIdentity(ctx context.Context, eui lorawan.EUI64) (lorawan.NetworkIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return lorawan.NetworkIdentity{}, ErrClosed
	}
	addr, ok := s.byEUI[eui]
	if !ok {
		return lorawan.NetworkIdentity{}, ErrNotFound
	}
	return s.byAddr[addr], nil
}

func (s *MemoryIdentityService) Put(ctx context.Context, identity lorawan.NetworkIdentity) error {
	if err := validIdentity(&identity); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	// 同一地址上的旧设备解除绑定
	if old, ok := s.byAddr[identity.DevAddr]; ok && old.DevEUI != identity.DevEUI {
		s.unindex(old.DevEUI, identity.DevAddr)
	}
	s.byAddr[identity.DevAddr] = identity
	s.byEUI[identity.DevEUI] = identity.DevAddr
	return nil
}

// unindex drops the EUI entry pointing at addr. When another address holds
// the same EUI, the lowest one takes over.
func (s *MemoryIdentityService) unindex(eui lorawan.EUI64, addr lorawan.DevAddr) {
	if s.byEUI[eui] != addr {
		return
	}
	delete(s.byEUI, eui)
	var (
		next  lorawan.DevAddr
		found bool
	)
	for k, n := range s.byAddr {
		if k == addr || n.DevEUI != eui {
			continue
		}
		if !found || k.Uint32() < next.Uint32() {
			next, found = k, true
		}
	}
	if found {
		s.byEUI[eui] = next
	}
}

func (s *MemoryIdentityService) Remove(ctx context.Context, identity lorawan.NetworkIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	addr := identity.DevAddr
	if addr.IsZero() {
		if identity.DevEUI.IsZero() {
			return ErrInvalidData
		}
		a, ok := s.byEUI[identity.DevEUI]
		if !ok {
			return ErrNotFound
		}
		addr = a
	}
	old, ok := s.byAddr[addr]
	if !ok {
		return ErrNotFound
	}
	delete(s.byAddr, addr)
	s.unindex(old.DevEUI, addr)
	return nil
}

func (s *MemoryIdentityService) List(ctx context.Context, offset uint32, size uint8) ([]lorawan.NetworkIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	keys := make([]lorawan.DevAddr, 0, len(s.byAddr))
	for k := range s.byAddr {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b lorawan.DevAddr) int {
		return cmpUint(uint64(a.Uint32()), uint64(b.Uint32()))
	})
	keys = page(keys, offset, size)
	out := make([]lorawan.NetworkIdentity, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.byAddr[k])
	}
	return out, nil
}

func (s *MemoryIdentityService) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.byAddr), nil
}

// Flush writes the snapshot file, if any
func (s *MemoryIdentityService) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.file == "" {
		return nil
	}
	list := make([]lorawan.NetworkIdentity, 0, len(s.byAddr))
	for _, n := range s.byAddr {
		list = append(list, n)
	}
	slices.SortFunc(list, func(a, b lorawan.NetworkIdentity) int {
		return cmpUint(uint64(a.DevAddr.Uint32()), uint64(b.DevAddr.Uint32()))
	})
	return saveSnapshot(s.file, list)
}

// Close flushes the snapshot and rejects further calls
func (s *MemoryIdentityService) Close() error {
	if err := s.Flush(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// MemoryGatewayService keeps gateways in a map
type MemoryGatewayService struct {
	mu     sync.RWMutex
	byID   map[lorawan.EUI64]lorawan.GatewayIdentity
	file   string
	closed bool
}

// NewMemoryGatewayService creates an empty store, or loads file when it exists
func NewMemoryGatewayService(file string) (*MemoryGatewayService, error) {
	s := &MemoryGatewayService{byID: make(map[lorawan.EUI64]lorawan.GatewayIdentity)}
	if err := s.SetOption("file", file); err != nil {
		return nil, err
	}
	return s, nil
}

// SetOption supports "file", as MemoryIdentityService does
func (s *MemoryGatewayService) SetOption(key, value string) error {
	if key != "file" {
		return fmt.Errorf("%w: %s", ErrUnsupportedOption, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = value
	if value == "" {
		return nil
	}
	var list []lorawan.GatewayIdentity
	if err := loadSnapshot(value, &list); err != nil {
		return err
	}
	for _, g := range list {
		if validGateway(&g) == nil {
			s.byID[g.ID] = g
		}
	}
	log.Debug().Str("file", value).Int("count", len(list)).Msg("Gateways loaded")
	return nil
}

func (s *MemoryGatewayService) Get(ctx context.Context, id lorawan.EUI64) (lorawan.GatewayIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return lorawan.GatewayIdentity{}, ErrClosed
	}
	g, ok := s.byID[id]
	if !ok {
		return lorawan.GatewayIdentity{}, ErrNotFound
	}
	return g, nil
}

func (s *MemoryGatewayService) GetByAddress(ctx context.Context, addr netip.AddrPort) (lorawan.GatewayIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return lorawan.GatewayIdentity{}, ErrClosed
	}
	var (
		found lorawan.GatewayIdentity
		ok    bool
	)
	for _, g := range s.byID {
		if !sameAddr(g.Addr, addr) {
			continue
		}
		if !ok || g.ID.Uint64() < found.ID.Uint64() {
			found, ok = g, true
		}
	}
	if !ok {
		return lorawan.GatewayIdentity{}, ErrNotFound
	}
	return found, nil
}

func (s *MemoryGatewayService) Put(ctx context.Context, gateway lorawan.GatewayIdentity) error {
	if err := validGateway(&gateway); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.byID[gateway.ID] = gateway
	return nil
}

func (s *MemoryGatewayService) Remove(ctx context.Context, gateway lorawan.GatewayIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !gateway.ID.IsZero() {
		if _, ok := s.byID[gateway.ID]; !ok {
			return ErrNotFound
		}
		delete(s.byID, gateway.ID)
		return nil
	}
	if !gateway.Addr.IsValid() {
		return ErrInvalidData
	}
	removed := 0
	for id, g := range s.byID {
		if sameAddr(g.Addr, gateway.Addr) {
			delete(s.byID, id)
			removed++
		}
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryGatewayService) List(ctx context.Context, offset uint32, size uint8) ([]lorawan.GatewayIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	list := make([]lorawan.GatewayIdentity, 0, len(s.byID))
	for _, g := range s.byID {
		list = append(list, g)
	}
	slices.SortFunc(list, func(a, b lorawan.GatewayIdentity) int {
		return cmpUint(a.ID.Uint64(), b.ID.Uint64())
	})
	return page(list, offset, size), nil
}

func (s *MemoryGatewayService) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.byID), nil
}

func (s *MemoryGatewayService) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.file == "" {
		return nil
	}
	list := make([]lorawan.GatewayIdentity, 0, len(s.byID))
	for _, g := range s.byID {
		list = append(list, g)
	}
	slices.SortFunc(list, func(a, b lorawan.GatewayIdentity) int {
		return cmpUint(a.ID.Uint64(), b.ID.Uint64())
	})
	return saveSnapshot(s.file, list)
}

func (s *MemoryGatewayService) Close() error {
	if err := s.Flush(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// page returns list[offset:offset+size] clamped to the list bounds
func page[T any](list []T, offset uint32, size uint8) []T {
	if uint64(offset) >= uint64(len(list)) {
		return list[:0]
	}
	list = list[offset:]
	if int(size) < len(list) {
		list = list[:size]
	}
	return list
}

func loadSnapshot(file string, v any) error {
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: snapshot %s: %v", ErrInvalidData, file, err)
	}
	return nil
}

func saveSnapshot(file string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, file)
}
