// Package backend selects a storage implementation by name. Built-in
// backends register themselves at init; others can be loaded from Go
// plugins at run time.
package backend

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/storage"
)

// Factory opens the identity and gateway services of a backend
type Factory func(ctx context.Context, opts storage.Options) (storage.IdentityService, storage.GatewayService, error)

var ErrUnknownBackend = errors.New("unknown storage backend")

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend available under name, replacing any previous one
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Names lists registered backends in sorted order
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Open creates both services of the named backend and applies opts.Extra.
// An option is an error only when neither service accepts it.
func Open(ctx context.Context, name string, opts storage.Options) (storage.IdentityService, storage.GatewayService, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Names())
	}

	ids, gws, err := f(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s backend: %w", name, err)
	}

	for k, v := range opts.Extra {
		errID := ids.SetOption(k, v)
		errGW := gws.SetOption(k, v)
		if errID == nil || errGW == nil {
			continue
		}
		if errors.Is(errID, storage.ErrUnsupportedOption) && errors.Is(errGW, storage.ErrUnsupportedOption) {
			err = fmt.Errorf("%s backend: %w", name, errID)
		} else if !errors.Is(errID, storage.ErrUnsupportedOption) {
			err = errID
		} else {
			err = errGW
		}
		ids.Close()
		gws.Close()
		return nil, nil, err
	}

	log.Info().Str("backend", name).Msg("Storage opened")
	return ids, gws, nil
}
