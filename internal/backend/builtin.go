package backend

import (
	"context"
	"fmt"

	"github.com/commandus/lorawan-storage-sub000/internal/storage"
)

func init() {
	Register("memory", openMemory)
	Register("postgres", openPostgres)
	Register("bolt", openBolt)
	Register("gen", openGenerator)
}

// openMemory keeps identities in Path and gateways in Path+".gateways" when Path is set
func openMemory(ctx context.Context, opts storage.Options) (storage.IdentityService, storage.GatewayService, error) {
	gwFile := ""
	if opts.Path != "" {
		gwFile = opts.Path + ".gateways"
	}
	ids, err := storage.NewMemoryIdentityService(opts.Path)
	if err != nil {
		return nil, nil, err
	}
	gws, err := storage.NewMemoryGatewayService(gwFile)
	if err != nil {
		return nil, nil, err
	}
	return ids, gws, nil
}

func openPostgres(ctx context.Context, opts storage.Options) (storage.IdentityService, storage.GatewayService, error) {
	if opts.DSN == "" {
		return nil, nil, fmt.Errorf("%w: postgres backend requires a dsn", storage.ErrInvalidData)
	}
	store, err := storage.NewPostgresStore(ctx, opts.DSN)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgresIdentityService(store), storage.NewPostgresGatewayService(store), nil
}

func openBolt(ctx context.Context, opts storage.Options) (storage.IdentityService, storage.GatewayService, error) {
	if opts.Path == "" {
		return nil, nil, fmt.Errorf("%w: bolt backend requires a path", storage.ErrInvalidData)
	}
	store, err := storage.NewBoltStore(opts.Path)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewBoltIdentityService(store), storage.NewBoltGatewayService(store), nil
}

// openGenerator pairs the read-only identity generator with in-memory gateways
func openGenerator(ctx context.Context, opts storage.Options) (storage.IdentityService, storage.GatewayService, error) {
	ids, err := storage.NewGeneratorIdentityService(opts.NetID, opts.MasterKey)
	if err != nil {
		return nil, nil, err
	}
	gws, err := storage.NewMemoryGatewayService(opts.Path)
	if err != nil {
		return nil, nil, err
	}
	return ids, gws, nil
}
