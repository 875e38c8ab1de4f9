package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/spot-tv/internal/config"
	"github.com/rickgao/spot-tv/internal/credentials"
	"github.com/rickgao/spot-tv/internal/database"
	"github.com/rickgao/spot-tv/internal/model"
)

// storeHandle is an open credential store with its health check and cleanup.
type storeHandle struct {
	credentials.Store
	driver string
	ping   func(ctx context.Context) error
	close  func()
}

// openStore opens the credential store selected by cfg.Store.Driver.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeHandle, error) {
	driver := cfg.Store.Driver
	noPing := func(context.Context) error { return nil }

	switch driver {
	case config.StoreDriverMemory:
		return &storeHandle{Store: credentials.NewMemoryStore(), driver: driver, ping: noPing, close: func() {}}, nil

	case config.StoreDriverFile:
		logger.Info("using file credential store", "path", cfg.Store.FilePath)
		return &storeHandle{Store: credentials.NewFileStore(cfg.Store.FilePath), driver: driver, ping: noPing, close: func() {}}, nil

	case config.StoreDriverPostgres:
		if cfg.Device.ID == "" {
			return nil, fmt.Errorf("device.id is required for the %s store driver", driver)
		}

		logger.Info("connecting to database",
			"host", cfg.Store.Postgres.Host,
			"port", cfg.Store.Postgres.Port,
			"database", cfg.Store.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Store.Postgres)
		if err != nil {
			return nil, err
		}

		store := database.NewCredentialStore(pool, cfg.Device.ID)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &storeHandle{Store: store, driver: driver, ping: pool.Ping, close: pool.Close}, nil

	case config.StoreDriverRedis:
		if cfg.Device.ID == "" {
			return nil, fmt.Errorf("device.id is required for the %s store driver", driver)
		}

		client, err := credentials.ConnectRedis(ctx, cfg.Store.Redis.URL)
		if err != nil {
			return nil, err
		}

		store := credentials.NewRedisStore(client, cfg.Store.Redis.KeyPrefix, cfg.Device.ID)
		return &storeHandle{
			Store:  store,
			driver: driver,
			ping:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close:  func() { store.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// ensureDeviceID returns the configured device ID, or the stored one, or a
// freshly generated one that is persisted for the next boot.
func ensureDeviceID(ctx context.Context, cfg *config.Config, store credentials.Store) (string, error) {
	var id string
	err := store.Update(ctx, func(st *credentials.State) {
		switch {
		case cfg.Device.ID != "":
			st.Device.ID = cfg.Device.ID
		case st.Device.ID == "":
			st.Device.ID = model.NewDeviceID()
		}
		id = st.Device.ID
	})
	if err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}
