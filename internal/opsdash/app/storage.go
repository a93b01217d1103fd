package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/file"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/memory"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/redis"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/sqlite"
)

// OpenStorage opens the configured driver, sealed with EncryptionSecret when set.
func OpenStorage(ctx context.Context, cfg Config, logger *slog.Logger) (storage.Storage, error) {
	var (
		st  storage.Storage
		err error
	)
	switch cfg.StorageDriver {
	case DriverMemory:
		st = memory.New()
	case DriverFile:
		st, err = file.New(cfg.StoragePath, logger)
	case DriverSQLite:
		st, err = sqlite.NewStore(fmt.Sprintf("file:%s", cfg.StoragePath))
	case DriverRedis:
		st, err = redis.Open(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.StorageDriver, err)
	}

	if cfg.EncryptionSecret == "" {
		return st, nil
	}
	enc, err := storage.NewEncrypted(st, []byte(cfg.EncryptionSecret))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable storage encryption: %w", err)
	}
	return enc, nil
}
