package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/commandus/lorawan-storage-sub000/internal/api"
	"github.com/commandus/lorawan-storage-sub000/internal/backend"
	"github.com/commandus/lorawan-storage-sub000/internal/config"
	"github.com/commandus/lorawan-storage-sub000/internal/dispatch"
	"github.com/commandus/lorawan-storage-sub000/internal/listener"
	"github.com/commandus/lorawan-storage-sub000/internal/storage"
)

type server interface {
	Serve(ctx context.Context) error
}

// serverFunc adapts an addressed Serve to the server interface
type serverFunc func(ctx context.Context) error

func (f serverFunc) Serve(ctx context.Context) error { return f(ctx) }

// run opens the backend, starts every listener and blocks until ctx is done
// or a listener fails.
func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Plugin != "" {
		name, err := backend.LoadPlugin(cfg.Storage.Plugin, cfg.Storage.Backend)
		if err != nil {
			return err
		}
		cfg.Storage.Backend = name
	}

	ids, gws, err := backend.Open(ctx, cfg.Storage.Backend, storage.Options{
		DSN:       cfg.Storage.DSN,
		Path:      cfg.Storage.Path,
		NetID:     cfg.Storage.NetID,
		MasterKey: cfg.Storage.MasterKey,
		Extra:     cfg.Storage.Options,
	})
	if err != nil {
		return err
	}
	defer closeStores(ids, gws)

	dc := dispatch.Config{Code: cfg.Auth.Code, AccessCode: uint64(cfg.Auth.AccessCode)}
	handlers := map[string]dispatch.Handler{
		"identity": dispatch.NewIdentityDispatcher(ids, dc),
		"gateway":  dispatch.NewGatewayDispatcher(gws, dc),
	}

	var nc *nats.Conn
	defer func() {
		if nc != nil {
			nc.Close()
		}
	}()

	servers := make([]server, 0, len(cfg.Listeners))
	for _, l := range cfg.Listeners {
		h := handlers[l.Service]
		switch l.Network {
		case "udp":
			u, err := listener.NewUDP(l.Address, h, cfg.Limits.UDPBufferSize, cfg.Limits.MaxResponseSize)
			if err != nil {
				return fmt.Errorf("%w: udp %s: %v", storage.ErrUnavailable, l.Address, err)
			}
			servers = append(servers, u)
		case "tcp":
			t, err := listener.NewTCP(l.Address, h, cfg.Limits.MaxResponseSize, cfg.Limits.ReadTimeout.Std())
			if err != nil {
				return fmt.Errorf("%w: tcp %s: %v", storage.ErrUnavailable, l.Address, err)
			}
			servers = append(servers, t)
		case "http":
			// HTTP 监听同时提供 identity 和 gateway 两个服务
			rest := api.NewRESTServer(cfg, handlers["identity"], handlers["gateway"])
			addr := l.Address
			servers = append(servers, serverFunc(func(ctx context.Context) error {
				return rest.Serve(ctx, addr)
			}))
		case "nats":
			if nc == nil {
				if nc, err = listener.ConnectNATS(cfg.NATS.URL, cfg.Server.Name, cfg.NATS.MaxReconnects); err != nil {
					return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
				}
			}
			servers = append(servers, listener.NewNATS(nc, l.Subject, h, cfg.Limits.MaxResponseSize))
		}
	}

	log.Info().Str("backend", cfg.Storage.Backend).Int("listeners", len(servers)).Msg("LoRaWAN storage 启动")

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		s := s
		g.Go(func() error { return s.Serve(gctx) })
	}
	return g.Wait()
}

func closeStores(ids storage.IdentityService, gws storage.GatewayService) {
	for _, c := range []interface{ Close() error }{ids, gws} {
		if err := c.Close(); err != nil && !errors.Is(err, storage.ErrClosed) {
			log.Warn().Err(err).Msg("Storage close failed")
		}
	}
}
