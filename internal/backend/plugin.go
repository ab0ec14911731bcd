package backend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	goplugin "plugin"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/storage"
)

// Symbols a backend plugin exports, with <Name> the capitalised backend name
type (
	IdentityMaker = func(opts storage.Options) (storage.IdentityService, error)
	GatewayMaker  = func(opts storage.Options) (storage.GatewayService, error)
)

var ErrPluginSymbol = errors.New("plugin symbol missing")

// SymbolNames returns the exported constructor names for backend name
func SymbolNames(name string) (identity, gateway string) {
	r := []rune(name)
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	n := string(r)
	return "Make" + n + "IdentityService", "Make" + n + "GatewayService"
}

// LoadPlugin opens a Go plugin and registers it. When name is empty it is
// taken from the file name without extension and a "lib" prefix.
func LoadPlugin(path, name string) (string, error) {
	if name == "" {
		name = strings.TrimPrefix(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), "lib")
	}
	p, err := goplugin.Open(path)
	if err != nil {
		return "", fmt.Errorf("open plugin %s: %w", path, err)
	}
	idSym, gwSym := SymbolNames(name)

	mkID, err := lookup[IdentityMaker](p, idSym)
	if err != nil {
		return "", err
	}
	mkGW, err := lookup[GatewayMaker](p, gwSym)
	if err != nil {
		return "", err
	}

	Register(name, makersFactory(mkID, mkGW))
	log.Info().Str("plugin", path).Str("backend", name).Msg("Storage plugin loaded")
	return name, nil
}

func lookup[T any](p *goplugin.Plugin, symbol string) (T, error) {
	var zero T
	sym, err := p.Lookup(symbol)
	if err != nil {
		return zero, fmt.Errorf("%w: %s", ErrPluginSymbol, symbol)
	}
	switch f := sym.(type) {
	case T:
		return f, nil
	case *T:
		return *f, nil
	}
	return zero, fmt.Errorf("%w: %s has type %T", ErrPluginSymbol, symbol, sym)
}

// makersFactory adapts a pair of plugin constructors to a Factory
func makersFactory(mkID IdentityMaker, mkGW GatewayMaker) Factory {
	return func(ctx context.Context, opts storage.Options) (storage.IdentityService, storage.GatewayService, error) {
		ids, err := mkID(opts)
		if err != nil {
			return nil, nil, err
		}
		gws, err := mkGW(opts)
		if err != nil {
			ids.Close()
			return nil, nil, err
		}
		return ids, gws, nil
	}
}
