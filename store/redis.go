package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/drahnr/constellation/config"
)

const (
	recordPrefix  = "constellation:records:"
	eventsChannel = "constellation:events"
)

// Redis backs the store with a redis hash per name, one field per
// record type, JSON encoded candidate sets as values. Mutations are
// published on a pub/sub channel so every server instance invalidates
// its cache.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedis builds a backend from the redis section of cfg. The
// connection is lazy, a dead server surfaces as ErrUnavailable on the
// first call.
func NewRedis(cfg *config.Config) *Redis {
	timeout := cfg.Timeout.Duration
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddress,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	return &Redis{client: client, timeout: timeout}
}

func recordKey(name string) string {
	return recordPrefix + CanonicalName(name)
}

// Lookup implements Store.
func (r *Redis) Lookup(ctx context.Context, name, rtype string) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	val, err := r.client.HGet(ctx, recordKey(name), rtype).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var set []Record
	if err := json.Unmarshal([]byte(val), &set); err != nil {
		return nil, fmt.Errorf("%w: decode %s/%s: %v", ErrUnavailable, name, rtype, err)
	}

	name = CanonicalName(name)
	for i := range set {
		set[i].Name = name
		set[i].Type = rtype
	}
	return set, nil
}

// Types implements Store.
func (r *Redis) Types(ctx context.Context, name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	types, err := r.client.HKeys(ctx, recordKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return types, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, name, rtype string, records []Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.HSet(ctx, recordKey(name), rtype, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r.publish(ctx, name)
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, name, rtype string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var err error
	if rtype == "" {
		err = r.client.Del(ctx, recordKey(name)).Err()
	} else {
		err = r.client.HDel(ctx, recordKey(name), rtype).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r.publish(ctx, name)
}

func (r *Redis) publish(ctx context.Context, name string) error {
	if err := r.client.Publish(ctx, eventsChannel, CanonicalName(name)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Watch implements Store via pub/sub. The subscription reconnects
// internally, events raised while it is down are lost, which the cache
// tolerates through TTL expiry.
func (r *Redis) Watch(ctx context.Context) (<-chan Event, error) {
	pubsub := r.client.Subscribe(ctx, eventsChannel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan Event, 128)

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- Event{Name: msg.Payload}:
				default:
				}
			}
		}
	}()

	return out, nil
}

// Close implements Store.
func (r *Redis) Close() error {
	return r.client.Close()
}
