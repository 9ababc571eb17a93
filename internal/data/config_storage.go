package data

import (
	"context"
	"fmt"
	"time"

	storeerrors "Gateleen/pkg/errors"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// ConfigStorage persists the breaker configuration document and broadcasts
// changes to every instance through a pub/sub channel.
type ConfigStorage struct {
	rdb *redis.Client
	log *log.Helper
}

// NewConfigStorage creates a configuration storage
func NewConfigStorage(rdb *redis.Client, logger log.Logger) *ConfigStorage {
	return &ConfigStorage{
		rdb: rdb,
		log: log.NewHelper(log.With(logger, "module", "data/config")),
	}
}

// LoadConfig returns the stored document, or nil when none is stored.
func (s *ConfigStorage) LoadConfig(ctx context.Context) ([]byte, error) {
	doc, err := s.rdb.Get(ctx, configKey).Bytes()
	if err != nil {
		if storeerrors.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load config: %w", storeerrors.ClassifyRedisError("get", err))
	}
	return doc, nil
}

// SaveConfig stores the document without expiry.
func (s *ConfigStorage) SaveConfig(ctx context.Context, doc []byte) error {
	if err := s.rdb.Set(ctx, configKey, doc, 0).Err(); err != nil {
		return fmt.Errorf("failed to save config: %w", storeerrors.ClassifyRedisError("set", err))
	}
	return nil
}

// DeleteConfig removes the stored document.
func (s *ConfigStorage) DeleteConfig(ctx context.Context) error {
	if err := s.rdb.Del(ctx, configKey).Err(); err != nil {
		return fmt.Errorf("failed to delete config: %w", storeerrors.ClassifyRedisError("del", err))
	}
	return nil
}

// PublishConfigUpdated notifies every subscribed instance.
func (s *ConfigStorage) PublishConfigUpdated(ctx context.Context) error {
	if err := s.rdb.Publish(ctx, ConfigUpdatedChannel, "updated").Err(); err != nil {
		return fmt.Errorf("failed to publish config update: %w", storeerrors.ClassifyRedisError("publish", err))
	}
	return nil
}

// WatchConfigUpdates subscribes to the update channel. The returned channel
// receives one value per notification and is closed when ctx is done.
func (s *ConfigStorage) WatchConfigUpdates(ctx context.Context) (<-chan struct{}, error) {
	pubsub, err := backoff.Retry(ctx, func() (*redis.PubSub, error) {
		ps := s.rdb.Subscribe(ctx, ConfigUpdatedChannel)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			s.log.Warnw("msg", "failed to subscribe to config updates, retrying", "error", err)
			return nil, err
		}
		return ps, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ConfigUpdatedChannel, err)
	}

	updates := make(chan struct{}, 1)
	go func() {
		defer close(updates)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				// coalesce bursts, one pending reload is enough
				select {
				case updates <- struct{}{}:
				default:
				}
			}
		}
	}()

	return updates, nil
}
