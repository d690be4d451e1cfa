package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// subscriberBuffer bounds how far a slow subscriber may fall behind
// before messages are dropped. Dropping is consistent with the pub/sub
// loss model; it is not an error.
const subscriberBuffer = 64

// janitorInterval is how often expired records are swept. Get also
// checks expiry lazily, so the sweep only bounds memory growth.
const janitorInterval = 250 * time.Millisecond

type memoryRecord struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Memory is an in-process Bus built on channels and a TTL map. It
// mirrors the delivery semantics of the Redis bus: broadcast to current
// subscribers only, per-topic order preserved, records expire.
//
// Memory backs tests and the one-shot CLI paths where the full pipeline
// runs inside a single process.
type Memory struct {
	mu      sync.Mutex
	subs    map[string][]chan Message
	records map[string]memoryRecord
	closed  bool
	done    chan struct{}
}

// NewMemory constructs a Memory bus and starts its expiry janitor.
func NewMemory() *Memory {
	m := &Memory{
		subs:    make(map[string][]chan Message),
		records: make(map[string]memoryRecord),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for key, rec := range m.records {
				if !rec.expiresAt.IsZero() && now.After(rec.expiresAt) {
					delete(m.records, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Publish delivers payload to every subscriber currently registered on
// topic. Subscribers whose buffer is full miss the message.
func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("bus: memory bus is closed")
	}
	for _, ch := range m.subs[topic] {
		select {
		case ch <- Message{Topic: topic, Payload: payload}:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber on topic. The returned channel
// is closed when ctx is cancelled or the bus is closed.
func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("bus: memory bus is closed")
	}
	ch := make(chan Message, subscriberBuffer)
	m.subs[topic] = append(m.subs[topic], ch)
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			m.unsubscribe(topic, ch)
		case <-m.done:
		}
	}()
	return ch, nil
}

func (m *Memory) unsubscribe(topic string, ch chan Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	subs := m.subs[topic]
	for i, sub := range subs {
		if sub == ch {
			m.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Subscribers reports how many subscribers are currently registered on
// topic. Callers use it to wait until a stage loop is listening before
// publishing, since unobserved messages are lost.
func (m *Memory) Subscribers(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[topic])
}

// Set stores value under key with the given ttl. A zero ttl means the
// record never expires.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	rec := memoryRecord{value: append([]byte(nil), value...)}
	if ttl > 0 {
		rec.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("bus: memory bus is closed")
	}
	m.records[key] = rec
	return nil
}

// Get returns the record under key, treating an expired record as
// absent even if the janitor has not swept it yet.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	if !rec.expiresAt.IsZero() && time.Now().After(rec.expiresAt) {
		delete(m.records, key)
		return nil, false, nil
	}
	return append([]byte(nil), rec.value...), true, nil
}

// Ping always succeeds while the bus is open.
func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("bus: memory bus is closed")
	}
	return nil
}

// Close stops the janitor and closes every subscriber channel. Further
// calls are no-ops.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	for topic, subs := range m.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(m.subs, topic)
	}
	return nil
}
