package store

import (
	"qfleet/internal/config"
	"qfleet/internal/types"
)

// New builds the provider the config asks for. Hybrid and remote need a
// remote URL; config validation already enforces that, this re-checks for
// callers constructing configs by hand.
func New(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderLocal:
		return NewLocalStore(cfg.DatabasePath()), nil
	case config.ProviderRemote:
		if cfg.Remote.URL == "" {
			return nil, types.NewError(types.KindInvalidInput, "remote provider needs a remote URL")
		}
		return NewRemoteStore(cfg.Remote.URL), nil
	case config.ProviderHybrid:
		if cfg.Remote.URL == "" {
			return nil, types.NewError(types.KindInvalidInput, "hybrid provider needs a remote URL")
		}
		return NewHybridStore(NewLocalStore(cfg.DatabasePath()), NewRemoteStore(cfg.Remote.URL)), nil
	default:
		return nil, types.NewError(types.KindInvalidInput, "unknown provider type %q", cfg.Provider)
	}
}
