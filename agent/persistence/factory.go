package persistence

import (
	"fmt"

	"github.com/BaSui01/chatflow/internal/cache"
	"github.com/BaSui01/chatflow/internal/database"
	"go.uber.org/zap"
)

// NewStore creates a Store based on the configuration. c and pool are only
// required by the backends that use them.
func NewStore(config StoreConfig, c *cache.Manager, pool *database.PoolManager, logger *zap.Logger) (Store, error) {
	switch config.Type {
	case "", StoreTypeMemory:
		return NewMemoryStore(config), nil
	case StoreTypeRedis:
		return NewRedisStore(c, config, logger)
	case StoreTypeSQL:
		return NewSQLStore(pool, config, logger)
	case StoreTypeTiered:
		rs, err := NewRedisStore(c, config, logger)
		if err != nil {
			return nil, err
		}
		ss, err := NewSQLStore(pool, config, logger)
		if err != nil {
			return nil, err
		}
		return NewTieredStore(rs, ss, logger), nil
	default:
		return nil, fmt.Errorf("unsupported chat store type: %s", config.Type)
	}
}
