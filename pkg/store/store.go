// Package store persists the ordered unlock history and fans events out over
// Redis pub/sub. It shares the KV backend with the caches but owns its own
// namespaces: the "entries" ordered set, the "unlock_<id>" values and the two
// event topics.
package store

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jirwin/casetracker/pkg/steam"
)

const (
	entriesKey      = "entries"
	unlockKeyPrefix = "unlock_"

	unlockTopic = "new_unlock_events"
	syncTopic   = "new_sync_events"
)

// ErrConnectionTimeout is returned when a pooled connection could not be
// acquired within the pool's bounded wait.
var ErrConnectionTimeout = errors.New("could not acquire a connection in time")

// Store is the durable history plus pub/sub fan-out.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New creates a store over the given Redis client.
func New(rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

// AppendEntry persists one unhydrated unlock: the history id joins the
// "entries" ordered set scored by the unlock's millisecond timestamp, and the
// JSON encoding lands under "unlock_<id>". Both commands run in one pipeline.
// Resubmitting the same unlock rewrites an identical score and value, so
// retries are idempotent.
func (s *Store) AppendEntry(ctx context.Context, entry steam.UnhydratedUnlock) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding unlock %s: %w", entry.HistoryID, err)
	}

	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, entriesKey, redis.Z{
			Score:  float64(entry.At.UnixMilli()),
			Member: entry.HistoryID,
		})
		pipe.Set(ctx, unlockKeyPrefix+entry.HistoryID, data, 0)
		return nil
	})
	if err != nil {
		return translateErr(err)
	}

	return nil
}

// GetEntries returns the full history, newest first.
func (s *Store) GetEntries(ctx context.Context) ([]steam.UnhydratedUnlock, error) {
	ids, err := s.rdb.ZRevRange(ctx, entriesKey, 0, -1).Result()
	if err != nil {
		return nil, translateErr(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// A one-element multi-get is indistinguishable from a scalar get at the
	// protocol level; issue the singular command directly.
	if len(ids) == 1 {
		raw, err := s.rdb.Get(ctx, unlockKeyPrefix+ids[0]).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, translateErr(err)
		}

		var entry steam.UnhydratedUnlock
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decoding unlock %s: %w", ids[0], err)
		}
		return []steam.UnhydratedUnlock{entry}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = unlockKeyPrefix + id
	}

	raw, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, translateErr(err)
	}

	entries := make([]steam.UnhydratedUnlock, 0, len(raw))
	for i, r := range raw {
		if r == nil {
			continue
		}
		val, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected value type %T for unlock %s", r, ids[i])
		}
		var entry steam.UnhydratedUnlock
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			return nil, fmt.Errorf("decoding unlock %s: %w", ids[i], err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// PublishUnlock broadcasts a hydrated unlock on the unlock topic.
func (s *Store) PublishUnlock(ctx context.Context, unlock steam.Unlock) error {
	return s.publish(ctx, unlockTopic, unlock)
}

// StartCountdown broadcasts a countdown request on the sync topic.
func (s *Store) StartCountdown(ctx context.Context, req steam.CountdownRequest) error {
	return s.publish(ctx, syncTopic, req)
}

func (s *Store) publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", topic, err)
	}

	if err := s.rdb.Publish(ctx, topic, data).Err(); err != nil {
		return translateErr(err)
	}

	return nil
}

// UnlockStream subscribes to the unlock topic on a dedicated connection and
// returns a channel of decoded events. The channel closes when ctx is
// cancelled or the subscription drops. Decode failures are logged and
// skipped.
func (s *Store) UnlockStream(ctx context.Context) (<-chan steam.Unlock, error) {
	return subscribeJSON[steam.Unlock](ctx, s.rdb, unlockTopic, s.logger)
}

// SyncStream is UnlockStream for countdown requests on the sync topic.
func (s *Store) SyncStream(ctx context.Context) (<-chan steam.CountdownRequest, error) {
	return subscribeJSON[steam.CountdownRequest](ctx, s.rdb, syncTopic, s.logger)
}

// subscribeJSON subscribes on a dedicated connection (pub/sub connections
// cannot come from the pool; they are consumed by the subscription for their
// whole lifetime) and decodes each message as T.
func subscribeJSON[T any](ctx context.Context, rdb *redis.Client, topic string, logger *zap.Logger) (<-chan T, error) {
	sub := rdb.Subscribe(ctx, topic)

	// Force the SUBSCRIBE round-trip so events published after this call
	// returns are guaranteed to be delivered.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	out := make(chan T)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var decoded T
				if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
					logger.Error("failed to decode published event",
						zap.String("topic", topic),
						zap.String("payload", msg.Payload),
						zap.Error(err))
					continue
				}

				select {
				case out <- decoded:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func translateErr(err error) error {
	if errors.Is(err, redis.ErrPoolTimeout) {
		return ErrConnectionTimeout
	}
	return err
}
