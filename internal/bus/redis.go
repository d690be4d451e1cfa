package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fallbackHosts are tried in order when no explicit host is configured.
// The list covers the common deployment shapes: a compose service named
// "redis", a local daemon, and the Docker Desktop host alias.
var fallbackHosts = []string{"redis", "localhost", "127.0.0.1", "host.docker.internal"}

// connectProbeTimeout bounds the ping used to test each candidate host.
const connectProbeTimeout = 2 * time.Second

// RedisConfig holds connection settings for the Redis bus.
type RedisConfig struct {
	// Host is the Redis hostname. When empty, the fallback host list is
	// probed in order.
	Host string
	// Port is the Redis port; 6379 when zero.
	Port int
	// DB is the logical Redis database number.
	DB int
	// Password is the optional AUTH password.
	Password string
}

// Redis implements Bus over a Redis server: topics map to Redis pub/sub
// channels and records to ordinary keys with EXPIRE.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis, probing fallback hosts when cfg.Host is
// empty. It fails only when no candidate answers a ping.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	hosts := fallbackHosts
	if cfg.Host != "" {
		hosts = []string{cfg.Host}
	}

	var lastErr error
	for _, host := range hosts {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", host, port),
			DB:       cfg.DB,
			Password: cfg.Password,
		})
		probeCtx, cancel := context.WithTimeout(ctx, connectProbeTimeout)
		err := client.Ping(probeCtx).Err()
		cancel()
		if err == nil {
			return &Redis{client: client}, nil
		}
		lastErr = err
		_ = client.Close()
	}
	return nil, fmt.Errorf("bus: no redis host reachable (tried %s): %w",
		strings.Join(hosts, ", "), lastErr)
}

// NewRedisClient wraps an existing client, mainly for tests against
// miniredis-style servers.
func NewRedisClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Client exposes the underlying Redis client so other components (such
// as the embedding cache) can share the connection.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Publish broadcasts payload on topic. Redis pub/sub does not persist:
// with no subscriber the message is lost.
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish on %q: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription on topic. It does not return
// until the subscription is confirmed by the server, so a publish
// issued after Subscribe returns will be observed.
func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	sub := r.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("bus: subscribe to %q: %w", topic, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Set writes value under key with an EXPIRE of ttl; a zero ttl means no
// expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("bus: set %q: %w", key, err)
	}
	return nil
}

// Get reads the value under key; a missing key is a plain miss, not an
// error.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("bus: get %q: %w", key, err)
	}
	return value, true, nil
}

// Ping verifies the server connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("bus: ping: %w", err)
	}
	return nil
}

// Close releases the underlying client and its subscriptions.
func (r *Redis) Close() error {
	return r.client.Close()
}
