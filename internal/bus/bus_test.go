package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestBus(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func Test_Memory_SubscribeThenPublishDelivers(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, TopicQuestions)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Publish(ctx, TopicQuestions, []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg.Payload) != "hello" {
			t.Fatalf("unexpected payload %q", msg.Payload)
		}
		if msg.Topic != TopicQuestions {
			t.Fatalf("unexpected topic %q", msg.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("message was not delivered")
	}
}

func Test_Memory_PerTopicOrderPreserved(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, TopicGeneration)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	payloads := []string{"first", "second", "third"}
	for _, p := range payloads {
		if err := b.Publish(ctx, TopicGeneration, []byte(p)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	for _, want := range payloads {
		select {
		case msg := <-ch:
			if string(msg.Payload) != want {
				t.Fatalf("out of order: got %q, want %q", msg.Payload, want)
			}
		case <-time.After(time.Second):
			t.Fatal("message was not delivered")
		}
	}
}

func Test_Memory_PublishWithoutSubscriberIsLost(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	ctx := context.Background()

	if err := b.Publish(ctx, TopicQuestions, []byte(`{"id":"abc","question":"X","k":3}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// A subscriber arriving after the publish never sees the message,
	// so the poll for its response exhausts the budget.
	if _, err := b.Subscribe(ctx, TopicQuestions); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	_, err := Poll(ctx, b, ResponseKey("abc"), 10*time.Millisecond, 3)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
}

func Test_Memory_RecordExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	ctx := context.Background()

	key := ResponseKey("ttl-test")
	if err := b.Set(ctx, key, []byte("answer"), 40*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, found, err := b.Get(ctx, key); err != nil || !found {
		t.Fatalf("expected record before expiry, found=%v err=%v", found, err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, found, err := b.Get(ctx, key); err != nil || found {
		t.Fatalf("expected record to be expired, found=%v err=%v", found, err)
	}
}

func Test_Memory_ZeroTTLNeverExpires(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	ctx := context.Background()

	if err := b.Set(ctx, "permanent", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, found, _ := b.Get(ctx, "permanent"); !found {
		t.Fatal("zero-ttl record must not expire")
	}
}

func Test_Poll_ReturnsRecordWhenPresent(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	ctx := context.Background()

	key := ResponseKey("late")
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = b.Set(ctx, key, []byte("done"), time.Minute)
	}()

	value, err := Poll(ctx, b, key, 10*time.Millisecond, 20)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if string(value) != "done" {
		t.Fatalf("unexpected value %q", value)
	}
}

func Test_Poll_ContextCancellationAborts(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Poll(ctx, b, "never", 50*time.Millisecond, 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not abort promptly")
	}
}

func Test_Memory_MultipleSubscribersBroadcast(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	ctx := context.Background()

	ch1, _ := b.Subscribe(ctx, TopicQuestions)
	ch2, _ := b.Subscribe(ctx, TopicQuestions)
	if err := b.Publish(ctx, TopicQuestions, []byte("fanout")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for i, ch := range []<-chan Message{ch1, ch2} {
		select {
		case msg := <-ch:
			if string(msg.Payload) != "fanout" {
				t.Fatalf("subscriber %d got %q", i, msg.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed the broadcast", i)
		}
	}
}

func Test_Memory_UnsubscribeOnContextCancel(t *testing.T) {
	t.Parallel()

	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, TopicQuestions)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed after context cancellation")
		}
	}
}

func Test_Memory_CloseClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewMemory()
	ch, err := b.Subscribe(context.Background(), TopicGeneration)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got a message")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}

	if err := b.Publish(context.Background(), TopicGeneration, []byte("x")); err == nil {
		t.Fatal("publish on a closed bus must fail")
	}
}

func Test_Keys_Prefixes(t *testing.T) {
	t.Parallel()

	if got := ResponseKey("abc"); got != "response:abc" {
		t.Fatalf("ResponseKey: got %q", got)
	}
	if got := RequestKey("abc"); got != "request:abc" {
		t.Fatalf("RequestKey: got %q", got)
	}
}
