package storage

import (
	"context"
	"database/sql"

	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// PostgresIdentityService implements IdentityService on the identities table
type PostgresIdentityService struct {
	*PostgresStore
}

// NewPostgresIdentityService wraps an open store
func NewPostgresIdentityService(store *PostgresStore) *PostgresIdentityService {
	store.retain()
	return &PostgresIdentityService{PostgresStore: store}
}

const identityColumns = `addr, deveui, activation, class, nwkskey, appskey, version,
               appeui, appkey, nwkkey, devnonce, joinnonce, name`

func scanIdentity(row interface{ Scan(dest ...any) error }) (lorawan.NetworkIdentity, error) {
	var (
		n                                           lorawan.NetworkIdentity
		addr, eui, nwkSKey, appSKey, appEUI, appKey []byte
		nwkKey, name                                []byte
		activation, class, version                  int16
		devNonce, joinNonce                         int32
	)
	err := row.Scan(&addr, &eui, &activation, &class, &nwkSKey, &appSKey, &version,
		&appEUI, &appKey, &nwkKey, &devNonce, &joinNonce, &name)
	if err != nil {
		return n, err
	}
	copy(n.DevAddr[:], addr)
	copy(n.DevEUI[:], eui)
	n.Activation = lorawan.ActivationMode(activation)
	n.Class = lorawan.DeviceClass(class)
	copy(n.NwkSKey[:], nwkSKey)
	copy(n.AppSKey[:], appSKey)
	n.Version = lorawan.Version(version)
	copy(n.AppEUI[:], appEUI)
	copy(n.AppKey[:], appKey)
	copy(n.NwkKey[:], nwkKey)
	n.DevNonce = uint16(devNonce)
	n.JoinNonce = uint32(joinNonce)
	copy(n.Name[:], name)
	return n, nil
}

// Get gets an identity by address
func (s *PostgresIdentityService) Get(ctx context.Context, addr lorawan.DevAddr) (lorawan.NetworkIdentity, error) {
	query := `
        SELECT ` + identityColumns + `
        FROM identities
        WHERE addr = $1`

	n, err := scanIdentity(s.getDB().QueryRowContext(ctx, query, addr[:]))
	return n, mapError(err)
}

// GetNetworkIdentity gets the most recently assigned identity with the device EUI
func (s *PostgresIdentityService) GetNetworkIdentity(ctx context.Context, eui lorawan.EUI64) (lorawan.NetworkIdentity, error) {
	query := `
        SELECT ` + identityColumns + `
        FROM identities
        WHERE deveui = $1
        ORDER BY assigned DESC, addr
        LIMIT 1`

	n, err := scanIdentity(s.getDB().QueryRowContext(ctx, query, eui[:]))
	return n, mapError(err)
}

// Put inserts or replaces the identity at its address
func (s *PostgresIdentityService) Put(ctx context.Context, n lorawan.NetworkIdentity) error {
	if err := validIdentity(&n); err != nil {
		return err
	}

	query := `
        INSERT INTO identities (` + identityColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (addr) DO UPDATE SET
            deveui = EXCLUDED.deveui,
            activation = EXCLUDED.activation,
            class = EXCLUDED.class,
            nwkskey = EXCLUDED.nwkskey,
            appskey = EXCLUDED.appskey,
            version = EXCLUDED.version,
            appeui = EXCLUDED.appeui,
            appkey = EXCLUDED.appkey,
            nwkkey = EXCLUDED.nwkkey,
            devnonce = EXCLUDED.devnonce,
            joinnonce = EXCLUDED.joinnonce,
            name = EXCLUDED.name,
            assigned = clock_timestamp()`

	_, err := s.getDB().ExecContext(ctx, query,
		n.DevAddr[:], n.DevEUI[:], int16(n.Activation), int16(n.Class), n.NwkSKey[:], n.AppSKey[:],
		int16(n.Version), n.AppEUI[:], n.AppKey[:], n.NwkKey[:], int32(n.DevNonce), int32(n.JoinNonce),
		n.Name[:],
	)
	return mapError(err)
}

// Remove deletes by address, or by EUI when the address is zero
func (s *PostgresIdentityService) Remove(ctx context.Context, n lorawan.NetworkIdentity) error {
	var (
		res sql.Result
		err error
	)
	switch {
	case !n.DevAddr.IsZero():
		res, err = s.getDB().ExecContext(ctx, `DELETE FROM identities WHERE addr = $1`, n.DevAddr[:])
	case !n.DevEUI.IsZero():
		res, err = s.getDB().ExecContext(ctx, `
        DELETE FROM identities WHERE addr = (
            SELECT addr FROM identities WHERE deveui = $1
            ORDER BY assigned DESC, addr
            LIMIT 1)`, n.DevEUI[:])
	default:
		return ErrInvalidData
	}
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

// List lists identities ordered by address
func (s *PostgresIdentityService) List(ctx context.Context, offset uint32, size uint8) ([]lorawan.NetworkIdentity, error) {
	query := `
        SELECT ` + identityColumns + `
        FROM identities
        ORDER BY addr
        LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, int(size), int64(offset))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	list := make([]lorawan.NetworkIdentity, 0, size)
	for rows.Next() {
		n, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// Size counts identities
func (s *PostgresIdentityService) Size(ctx context.Context) (int, error) {
	var count int
	err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count)
	return count, mapError(err)
}

// Flush checks the connection; statements are committed as they run
func (s *PostgresIdentityService) Flush(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}
