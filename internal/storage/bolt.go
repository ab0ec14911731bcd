package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

var (
	bucketIdentities = []byte("identities")
	bucketEUI        = []byte("eui")
	bucketGateways   = []byte("gateways")
)

// BoltStore is an embedded key-value database shared by the identity and
// gateway services. Values use the wire encoding of pkg/lorawan.
type BoltStore struct {
	db   *bolt.DB
	refs atomic.Int32
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketIdentities, bucketEUI, bucketGateways} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) retain() { s.refs.Add(1) }

// Close closes the database once the last service using it is closed
func (s *BoltStore) Close() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	return s.db.Close()
}

// SetOption supports "nosync": skip fsync on commit, Flush still syncs
func (s *BoltStore) SetOption(key, value string) error {
	if key != "nosync" {
		return fmt.Errorf("%w: %s", ErrUnsupportedOption, key)
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	s.db.NoSync = v
	return nil
}

// Flush syncs the database file to disk
func (s *BoltStore) Flush(ctx context.Context) error {
	return boltError(s.db.Sync())
}

func boltError(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func (s *BoltStore) view(fn func(tx *bolt.Tx) error) error {
	return boltError(s.db.View(fn))
}

func (s *BoltStore) update(fn func(tx *bolt.Tx) error) error {
	return boltError(s.db.Update(fn))
}

// boltPage walks b in key order, skipping offset keys and stopping after size
func boltPage(b *bolt.Bucket, offset uint32, size uint8, fn func(k, v []byte) error) error {
	c := b.Cursor()
	k, v := c.First()
	for i := uint32(0); k != nil && i < offset; i++ {
		k, v = c.Next()
	}
	for n := 0; k != nil && n < int(size); n++ {
		if err := fn(k, v); err != nil {
			return err
		}
		k, v = c.Next()
	}
	return nil
}

// BoltIdentityService stores identities under their address with an EUI index
type BoltIdentityService struct {
	*BoltStore
}

// NewBoltIdentityService wraps an open store
func NewBoltIdentityService(store *BoltStore) *BoltIdentityService {
	store.retain()
	return &BoltIdentityService{BoltStore: store}
}

func decodeIdentity(addr, v []byte) (lorawan.NetworkIdentity, error) {
	var n lorawan.NetworkIdentity
	if n.DeviceIdentity.Decode(v) == 0 {
		return n, fmt.Errorf("%w: identity %x", ErrInvalidData, addr)
	}
	copy(n.DevAddr[:], addr)
	return n, nil
}

func (s *BoltIdentityService) Get(ctx context.Context, addr lorawan.DevAddr) (lorawan.NetworkIdentity, error) {
	var n lorawan.NetworkIdentity
	err := s.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIdentities).Get(addr[:])
		if v == nil {
			return ErrNotFound
		}
		var err error
		n, err = decodeIdentity(addr[:], v)
		return err
	})
	return n, err
}

func (s *BoltIdentityService) GetNetworkIdentity(ctx context.Context, eui lorawan.EUI64) (lorawan.NetworkIdentity, error) {
	var n lorawan.NetworkIdentity
	err := s.view(func(tx *bolt.Tx) error {
		addr := tx.Bucket(bucketEUI).Get(eui[:])
		if addr == nil {
			return ErrNotFound
		}
		v := tx.Bucket(bucketIdentities).Get(addr)
		if v == nil {
			return ErrNotFound
		}
		var err error
		n, err = decodeIdentity(addr, v)
		return err
	})
	return n, err
}

func (s *BoltIdentityService) Put(ctx context.Context, n lorawan.NetworkIdentity) error {
	if err := validIdentity(&n); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketIdentities)
		idx := tx.Bucket(bucketEUI)
		if old := ids.Get(n.DevAddr[:]); len(old) >= lorawan.EUI64Size && !bytes.Equal(old[:lorawan.EUI64Size], n.DevEUI[:]) {
			eui := append([]byte(nil), old[:lorawan.EUI64Size]...)
			if err := boltUnindex(ids, idx, eui, n.DevAddr[:]); err != nil {
				return err
			}
		}
		v := make([]byte, lorawan.DeviceIdentitySize)
		n.DeviceIdentity.Encode(v)
		if err := ids.Put(n.DevAddr[:], v); err != nil {
			return err
		}
		return idx.Put(n.DevEUI[:], n.DevAddr[:])
	})
}

func (s *BoltIdentityService) Remove(ctx context.Context, n lorawan.NetworkIdentity) error {
	return s.update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketIdentities)
		idx := tx.Bucket(bucketEUI)
		addr := n.DevAddr[:]
		if n.DevAddr.IsZero() {
			if n.DevEUI.IsZero() {
				return ErrInvalidData
			}
			if addr = idx.Get(n.DevEUI[:]); addr == nil {
				return ErrNotFound
			}
			addr = append([]byte(nil), addr...)
		}
		old := ids.Get(addr)
		if old == nil {
			return ErrNotFound
		}
		eui := append([]byte(nil), old[:min(len(old), lorawan.EUI64Size)]...)
		if err := ids.Delete(addr); err != nil {
			return err
		}
		if len(eui) < lorawan.EUI64Size {
			return nil
		}
		return boltUnindex(ids, idx, eui, addr)
	})
}

// boltUnindex drops the EUI entry pointing at addr. When another address
// holds the same EUI, the lowest one takes over.
func boltUnindex(ids, idx *bolt.Bucket, eui, addr []byte) error {
	if !bytes.Equal(idx.Get(eui), addr) {
		return nil
	}
	if err := idx.Delete(eui); err != nil {
		return err
	}
	c := ids.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if !bytes.Equal(k, addr) && len(v) >= lorawan.EUI64Size && bytes.Equal(v[:lorawan.EUI64Size], eui) {
			return idx.Put(eui, append([]byte(nil), k...))
		}
	}
	return nil
}

func (s *BoltIdentityService) List(ctx context.Context, offset uint32, size uint8) ([]lorawan.NetworkIdentity, error) {
	list := make([]lorawan.NetworkIdentity, 0, size)
	err := s.view(func(tx *bolt.Tx) error {
		return boltPage(tx.Bucket(bucketIdentities), offset, size, func(k, v []byte) error {
			n, err := decodeIdentity(k, v)
			if err != nil {
				return err
			}
			list = append(list, n)
			return nil
		})
	})
	return list, err
}

func (s *BoltIdentityService) Size(ctx context.Context) (int, error) {
	var count int
	err := s.view(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketIdentities).Stats().KeyN
		return nil
	})
	return count, err
}

// BoltGatewayService stores gateway socket addresses under the gateway id
type BoltGatewayService struct {
	*BoltStore
}

// NewBoltGatewayService wraps an open store
func NewBoltGatewayService(store *BoltStore) *BoltGatewayService {
	store.retain()
	return &BoltGatewayService{BoltStore: store}
}

func decodeGateway(id, v []byte) lorawan.GatewayIdentity {
	var g lorawan.GatewayIdentity
	copy(g.ID[:], id)
	g.Addr, _ = lorawan.DecodeSockAddr(v)
	return g
}

func (s *BoltGatewayService) Get(ctx context.Context, id lorawan.EUI64) (lorawan.GatewayIdentity, error) {
	var g lorawan.GatewayIdentity
	err := s.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketGateways).Get(id[:])
		if v == nil {
			return ErrNotFound
		}
		g = decodeGateway(id[:], v)
		return nil
	})
	return g, err
}

// GetByAddress scans the bucket; keys are ordered so the first match has the lowest id
func (s *BoltGatewayService) GetByAddress(ctx context.Context, addr netip.AddrPort) (lorawan.GatewayIdentity, error) {
	var g lorawan.GatewayIdentity
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketGateways).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if cand := decodeGateway(k, v); sameAddr(cand.Addr, addr) {
				g = cand
				return nil
			}
		}
		return ErrNotFound
	})
	return g, err
}

func (s *BoltGatewayService) Put(ctx context.Context, g lorawan.GatewayIdentity) error {
	if err := validGateway(&g); err != nil {
		return err
	}
	v := make([]byte, lorawan.SockAddrSize(g.Addr))
	lorawan.EncodeSockAddr(v, g.Addr)
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGateways).Put(g.ID[:], v)
	})
}

func (s *BoltGatewayService) Remove(ctx context.Context, g lorawan.GatewayIdentity) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGateways)
		if !g.ID.IsZero() {
			if b.Get(g.ID[:]) == nil {
				return ErrNotFound
			}
			return b.Delete(g.ID[:])
		}
		if !g.Addr.IsValid() {
			return ErrInvalidData
		}
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if sameAddr(decodeGateway(k, v).Addr, g.Addr) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return ErrNotFound
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltGatewayService) List(ctx context.Context, offset uint32, size uint8) ([]lorawan.GatewayIdentity, error) {
	list := make([]lorawan.GatewayIdentity, 0, size)
	err := s.view(func(tx *bolt.Tx) error {
		return boltPage(tx.Bucket(bucketGateways), offset, size, func(k, v []byte) error {
			list = append(list, decodeGateway(k, v))
			return nil
		})
	})
	return list, err
}

func (s *BoltGatewayService) Size(ctx context.Context) (int, error) {
	var count int
	err := s.view(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketGateways).Stats().KeyN
		return nil
	})
	return count, err
}
