package storage

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// ========== Gateway Methods ==========

// PostgresGatewayService implements GatewayService on the gateways table
type PostgresGatewayService struct {
	*PostgresStore
}

// NewPostgresGatewayService wraps an open store
func NewPostgresGatewayService(store *PostgresStore) *PostgresGatewayService {
	store.retain()
	return &PostgresGatewayService{PostgresStore: store}
}

func addressKey(addr netip.AddrPort) string {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()).String()
}

func scanGateway(row interface{ Scan(dest ...any) error }) (lorawan.GatewayIdentity, error) {
	var (
		g       lorawan.GatewayIdentity
		id      []byte
		address string
	)
	if err := row.Scan(&id, &address); err != nil {
		return g, err
	}
	copy(g.ID[:], id)
	addr, err := netip.ParseAddrPort(address)
	if err != nil {
		return g, fmt.Errorf("%w: gateway %x address %q", ErrInvalidData, id, address)
	}
	g.Addr = addr
	return g, nil
}

// Get gets a gateway by ID
func (s *PostgresGatewayService) Get(ctx context.Context, id lorawan.EUI64) (lorawan.GatewayIdentity, error) {
	query := `
        SELECT id, address
        FROM gateways
        WHERE id = $1`

	g, err := scanGateway(s.getDB().QueryRowContext(ctx, query, id[:]))
	return g, mapError(err)
}

// GetByAddress gets the gateway with the lowest ID at addr
func (s *PostgresGatewayService) GetByAddress(ctx context.Context, addr netip.AddrPort) (lorawan.GatewayIdentity, error) {
	query := `
        SELECT id, address
        FROM gateways
        WHERE address = $1
        ORDER BY id
        LIMIT 1`

	g, err := scanGateway(s.getDB().QueryRowContext(ctx, query, addressKey(addr)))
	return g, mapError(err)
}

// Put inserts or updates a gateway
func (s *PostgresGatewayService) Put(ctx context.Context, g lorawan.GatewayIdentity) error {
	if err := validGateway(&g); err != nil {
		return err
	}

	query := `
        INSERT INTO gateways (id, address)
        VALUES ($1, $2)
        ON CONFLICT (id) DO UPDATE SET address = EXCLUDED.address`

	_, err := s.getDB().ExecContext(ctx, query, g.ID[:], addressKey(g.Addr))
	return mapError(err)
}

// Remove deletes by ID, or every gateway at the address when ID is zero
func (s *PostgresGatewayService) Remove(ctx context.Context, g lorawan.GatewayIdentity) error {
	var (
		query string
		arg   any
	)
	switch {
	case !g.ID.IsZero():
		query, arg = `DELETE FROM gateways WHERE id = $1`, g.ID[:]
	case g.Addr.IsValid():
		query, arg = `DELETE FROM gateways WHERE address = $1`, addressKey(g.Addr)
	default:
		return ErrInvalidData
	}

	res, err := s.getDB().ExecContext(ctx, query, arg)
	if err != nil {
		return mapError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List lists gateways ordered by ID
func (s *PostgresGatewayService) List(ctx context.Context, offset uint32, size uint8) ([]lorawan.GatewayIdentity, error) {
	query := `
        SELECT id, address
        FROM gateways
        ORDER BY id
        LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, int(size), int64(offset))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	list := make([]lorawan.GatewayIdentity, 0, size)
	for rows.Next() {
		g, err := scanGateway(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

// Size counts gateways
func (s *PostgresGatewayService) Size(ctx context.Context) (int, error) {
	var count int
	err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM gateways`).Scan(&count)
	return count, mapError(err)
}

// Flush checks the connection
func (s *PostgresGatewayService) Flush(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}
