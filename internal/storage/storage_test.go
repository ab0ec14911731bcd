package storage

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

func identity(addr uint32, eui uint64) lorawan.NetworkIdentity {
	n := lorawan.NetworkIdentity{DevAddr: lorawan.DevAddrFromUint32(addr)}
	n.DevEUI = lorawan.EUI64FromUint64(eui)
	n.Activation = lorawan.OTAA
	n.Class = lorawan.ClassC
	n.NwkSKey = lorawan.AES128Key{byte(addr)}
	n.AppKey = lorawan.AES128Key{15: byte(eui)}
	n.Version = lorawan.NewVersion(1, 0, 2)
	n.DevNonce = 0xfffe
	n.JoinNonce = 0xabcdef
	copy(n.Name[:], "node")
	return n
}

func gateway(id uint64, addr string) lorawan.GatewayIdentity {
	return lorawan.GatewayIdentity{ID: lorawan.EUI64FromUint64(id), Addr: netip.MustParseAddrPort(addr)}
}

// testIdentityService runs the behaviour every writable backend shares
func testIdentityService(t *testing.T, s IdentityService) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, lorawan.DevAddrFromUint32(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store: err = %v, want ErrNotFound", err)
	}

	for i := uint32(5); i >= 1; i-- {
		if err := s.Put(ctx, identity(i, uint64(i)<<8)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	if n, err := s.Size(ctx); err != nil || n != 5 {
		t.Fatalf("Size() = %d, %v, want 5", n, err)
	}

	got, err := s.Get(ctx, lorawan.DevAddrFromUint32(3))
	if err != nil {
		t.Fatal(err)
	}
	if got != identity(3, 3<<8) {
		t.Fatalf("Get(3) = %+v", got)
	}
	got, err = s.GetNetworkIdentity(ctx, lorawan.EUI64FromUint64(4<<8))
	if err != nil || got.DevAddr.Uint32() != 4 {
		t.Fatalf("GetNetworkIdentity = %v, %v", got, err)
	}

	list, err := s.List(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].DevAddr.Uint32() != 2 || list[1].DevAddr.Uint32() != 3 {
		t.Fatalf("List(1, 2) = %v", list)
	}
	if list, _ := s.List(ctx, 10, 5); len(list) != 0 {
		t.Fatalf("List past the end = %v", list)
	}

	// rotate keys at the same address
	rotated := identity(3, 3<<8)
	rotated.NwkSKey = lorawan.AES128Key{0xee}
	if err := s.Put(ctx, rotated); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get(ctx, rotated.DevAddr); got.NwkSKey != rotated.NwkSKey {
		t.Fatal("key rotation not stored")
	}

	// re-key: the EUI of address 2 is also bound to address 9
	if err := s.Put(ctx, identity(9, 2<<8)); err != nil {
		t.Fatalf("Put re-keyed EUI: %v", err)
	}
	if got, err := s.GetNetworkIdentity(ctx, lorawan.EUI64FromUint64(2<<8)); err != nil || got.DevAddr.Uint32() != 9 {
		t.Fatalf("GetNetworkIdentity after re-key = %v, %v, want address 9", got.DevAddr, err)
	}
	if got, err := s.Get(ctx, lorawan.DevAddrFromUint32(2)); err != nil || got.DevEUI.Uint64() != 2<<8 {
		t.Fatalf("Get(2) after re-key = %v, %v", got, err)
	}
	if err := s.Remove(ctx, lorawan.NetworkIdentity{DevAddr: lorawan.DevAddrFromUint32(9)}); err != nil {
		t.Fatal(err)
	}
	if got, err := s.GetNetworkIdentity(ctx, lorawan.EUI64FromUint64(2<<8)); err != nil || got.DevAddr.Uint32() != 2 {
		t.Fatalf("GetNetworkIdentity after removing address 9 = %v, %v, want address 2", got.DevAddr, err)
	}
	// moving another EUI onto address 4 leaves EUI 4<<8 unbound
	if err := s.Put(ctx, identity(4, 2<<8)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetNetworkIdentity(ctx, lorawan.EUI64FromUint64(4<<8)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old EUI of address 4: err = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, identity(4, 4<<8)); err != nil {
		t.Fatal(err)
	}
	if got, err := s.GetNetworkIdentity(ctx, lorawan.EUI64FromUint64(2<<8)); err != nil || got.DevAddr.Uint32() != 2 {
		t.Fatalf("EUI 2<<8 after address 4 moved back = %v, %v, want address 2", got.DevAddr, err)
	}
	if err := s.Put(ctx, lorawan.NetworkIdentity{}); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Put zero identity: err = %v, want ErrInvalidData", err)
	}
	wide := identity(7, 7<<8)
	wide.JoinNonce = lorawan.MaxJoinNonce + 1
	if err := s.Put(ctx, wide); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Put with a 25-bit join nonce: err = %v, want ErrInvalidData", err)
	}

	if err := s.Remove(ctx, lorawan.NetworkIdentity{DevAddr: lorawan.DevAddrFromUint32(1)}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Remove(ctx, lorawan.NetworkIdentity{DevAddr: lorawan.DevAddrFromUint32(1)}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Remove #%d of a missing address: err = %v, want ErrNotFound", i+2, err)
		}
	}
	byEUI := lorawan.NetworkIdentity{}
	byEUI.DevEUI = lorawan.EUI64FromUint64(2 << 8)
	if err := s.Remove(ctx, byEUI); err != nil {
		t.Fatalf("Remove by EUI: %v", err)
	}
	if _, err := s.GetNetworkIdentity(ctx, byEUI.DevEUI); !errors.Is(err, ErrNotFound) {
		t.Fatalf("EUI index not cleared: %v", err)
	}
	if n, _ := s.Size(ctx); n != 3 {
		t.Fatalf("Size() after removals = %d, want 3", n)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func testGatewayService(t *testing.T, s GatewayService) {
	t.Helper()
	ctx := context.Background()

	gws := []lorawan.GatewayIdentity{
		gateway(3, "10.0.0.1:1700"),
		gateway(1, "[2001:db8::1]:1700"),
		gateway(2, "10.0.0.1:1700"),
	}
	for _, g := range gws {
		if err := s.Put(ctx, g); err != nil {
			t.Fatalf("Put(%v): %v", g, err)
		}
	}
	if err := s.Put(ctx, lorawan.GatewayIdentity{ID: lorawan.EUI64{1}}); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Put without address: err = %v, want ErrInvalidData", err)
	}

	got, err := s.Get(ctx, lorawan.EUI64FromUint64(1))
	if err != nil || got != gws[1] {
		t.Fatalf("Get(1) = %v, %v", got, err)
	}
	got, err = s.GetByAddress(ctx, netip.MustParseAddrPort("10.0.0.1:1700"))
	if err != nil || got.ID.Uint64() != 2 {
		t.Fatalf("GetByAddress = %v, %v, want id 2", got, err)
	}
	if _, err := s.GetByAddress(ctx, netip.MustParseAddrPort("10.0.0.1:1701")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByAddress(other port): err = %v", err)
	}

	list, err := s.List(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID.Uint64() != 1 || list[2].ID.Uint64() != 3 {
		t.Fatalf("List = %v", list)
	}

	// remove by address drops both gateways behind 10.0.0.1:1700
	if err := s.Remove(ctx, lorawan.GatewayIdentity{Addr: netip.MustParseAddrPort("10.0.0.1:1700")}); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Size(ctx); n != 1 {
		t.Fatalf("Size() = %d, want 1", n)
	}
	if err := s.Remove(ctx, gws[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove missing: err = %v, want ErrNotFound", err)
	}
	if err := s.Remove(ctx, lorawan.GatewayIdentity{}); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Remove zero: err = %v, want ErrInvalidData", err)
	}
}

func TestMemoryIdentityService(t *testing.T) {
	s, err := NewMemoryIdentityService("")
	if err != nil {
		t.Fatal(err)
	}
	testIdentityService(t, s)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Size(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Size after Close: err = %v, want ErrClosed", err)
	}
}

func TestMemoryGatewayService(t *testing.T) {
	s, err := NewMemoryGatewayService("")
	if err != nil {
		t.Fatal(err)
	}
	testGatewayService(t, s)
}

func TestMemorySnapshot(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "identities.json")

	s, err := NewMemoryIdentityService(file)
	if err != nil {
		t.Fatal(err)
	}
	s.Put(ctx, identity(7, 70))
	s.Put(ctx, identity(8, 80))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	s2, err := NewMemoryIdentityService(file)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s2.Get(ctx, lorawan.DevAddrFromUint32(8))
	if err != nil || got != identity(8, 80) {
		t.Fatalf("reloaded Get = %+v, %v", got, err)
	}
	if err := s2.SetOption("unknown", "x"); !errors.Is(err, ErrUnsupportedOption) {
		t.Fatalf("SetOption: err = %v", err)
	}
}

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBoltIdentityService(t *testing.T) {
	store := newTestBoltStore(t)
	s := NewBoltIdentityService(store)
	t.Cleanup(func() { s.Close() })
	testIdentityService(t, s)
}

func TestBoltGatewayService(t *testing.T) {
	store := newTestBoltStore(t)
	s := NewBoltGatewayService(store)
	t.Cleanup(func() { s.Close() })
	testGatewayService(t, s)
}

func TestBoltSharedClose(t *testing.T) {
	ctx := context.Background()
	store := newTestBoltStore(t)
	ids := NewBoltIdentityService(store)
	gws := NewBoltGatewayService(store)

	if err := ids.Close(); err != nil {
		t.Fatal(err)
	}
	// gateways still usable after the identity service is closed
	if err := gws.Put(ctx, gateway(1, "127.0.0.1:1")); err != nil {
		t.Fatalf("Put after sibling Close: %v", err)
	}
	if err := gws.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := gws.Size(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Size after Close: err = %v, want ErrClosed", err)
	}
}

func TestPostgresServices(t *testing.T) {
	dsn := os.Getenv("LORAWAN_STORAGE_TEST_DSN")
	if dsn == "" {
		t.Skip("LORAWAN_STORAGE_TEST_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	ids := NewPostgresIdentityService(store)
	gws := NewPostgresGatewayService(store)
	t.Cleanup(func() {
		store.getDB().ExecContext(ctx, `DELETE FROM identities`)
		store.getDB().ExecContext(ctx, `DELETE FROM gateways`)
		ids.Close()
		gws.Close()
	})
	store.getDB().ExecContext(ctx, `DELETE FROM identities`)
	store.getDB().ExecContext(ctx, `DELETE FROM gateways`)

	testIdentityService(t, ids)
	testGatewayService(t, gws)
}
