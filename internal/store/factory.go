package store

import (
	"stayflow/internal/types"

	"github.com/sirupsen/logrus"
)

// NewStore creates a Store from configuration: Redis when REDIS_DSN is set,
// otherwise an in-process memory store.
func NewStore(configManager types.ConfigManager) (Store, error) {
	dsn := configManager.GetRedisDSN()
	if dsn == "" {
		logrus.Debug("No REDIS_DSN configured, using memory store")
		return NewMemoryStore(), nil
	}

	redisStore, err := NewRedisStore(dsn)
	if err != nil {
		return nil, err
	}
	logrus.Debug("Connected to redis store")
	return redisStore, nil
}
