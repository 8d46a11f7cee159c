package cmd

import (
	"context"

	"github.com/ghyeongl/savesync/savedata"
)

// stores is the pair of stores every command works on.
type stores struct {
	kv        savedata.KV
	legacy    *savedata.LegacyStore
	versioned *savedata.VersionedStore
}

func openStores(ctx context.Context, cfg Config) (*stores, error) {
	var (
		kv  savedata.KV
		err error
	)
	switch cfg.Legacy.Backend {
	case "redis":
		kv, err = savedata.NewRedisKV(ctx, cfg.Legacy.Redis.Addr, cfg.Legacy.Redis.DB, cfg.Legacy.Origin)
	case "memory":
		kv = savedata.NewMemoryKV(0)
	default:
		kv, err = savedata.OpenBoltKV(cfg.Legacy.Path, cfg.Legacy.Origin)
	}
	if err != nil {
		return nil, err
	}
	return &stores{
		kv:        kv,
		legacy:    savedata.NewLegacyStore(kv),
		versioned: savedata.NewVersionedStore(cfg.Versioned.Dir),
	}, nil
}

func (s *stores) Close() error {
	return s.kv.Close()
}
