// Package bus provides the pub/sub transport and the keyed, TTL-bound
// record store that thread a question through the pipeline stages.
//
// Publishing is broadcast, not queued: a message published while no
// subscriber is listening is lost. Stages must subscribe before their
// upstream publishes. The record store is the only state shared across
// stages; records expire after their TTL whether or not they were read.
package bus

import (
	"context"
	"errors"
	"time"
)

// Well-known topics and record key prefixes.
const (
	// TopicQuestions carries freshly submitted questions from the
	// gateway to the retrieval stage.
	TopicQuestions = "questions"
	// TopicGeneration carries questions enriched with retrieved
	// contexts from the retrieval stage to the generation stage.
	TopicGeneration = "generation"

	responseKeyPrefix = "response:"
	requestKeyPrefix  = "request:"
)

// ResponseKey returns the record-store key holding the terminal
// response for a correlation id.
func ResponseKey(id string) string { return responseKeyPrefix + id }

// RequestKey returns the record-store key for the bookkeeping record
// written at intake time.
func RequestKey(id string) string { return requestKeyPrefix + id }

// ErrPollTimeout indicates Poll exhausted its attempt budget without
// observing the record. The record may still appear later; the caller
// has already given up.
var ErrPollTimeout = errors.New("bus: poll timed out waiting for record")

// Message is a single payload delivered to a topic subscriber.
type Message struct {
	// Topic is the topic the message was published on.
	Topic string
	// Payload is the raw message body.
	Payload []byte
}

// Bus combines broadcast pub/sub with a keyed, expiring record store.
// Implementations must preserve per-topic publish order for a single
// subscriber.
type Bus interface {
	// Publish broadcasts payload to all current subscribers of topic.
	// The message is lost if nobody is subscribed.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe returns a channel delivering messages published on
	// topic from this call onward. The channel is closed when ctx is
	// cancelled or the bus is closed.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)

	// Set writes a record under key, expiring after ttl. A ttl of zero
	// means the record never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get reads the record under key. found is false for a missing or
	// expired record; that is not an error.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Ping verifies the bus is reachable.
	Ping(ctx context.Context) error

	// Close releases connections and closes all subscriber channels.
	Close() error
}

// Poll waits for a record to appear under key: sleep interval, check,
// repeat up to maxAttempts. It returns the record as soon as it is
// observed and ErrPollTimeout once the attempt budget is exhausted.
// Context cancellation aborts the wait early.
func Poll(ctx context.Context, b Bus, key string, interval time.Duration, maxAttempts int) ([]byte, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for range maxAttempts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		value, found, err := b.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			return value, nil
		}
		timer.Reset(interval)
	}
	return nil, ErrPollTimeout
}
