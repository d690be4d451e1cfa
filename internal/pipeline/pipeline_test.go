package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/devhelper/devhelper-go/internal/bus"
)

const testTTL = time.Minute

// fakeContexts is a ContextProvider returning canned contexts or a
// fixed error.
type fakeContexts struct {
	contexts []string
	err      error
}

func (f *fakeContexts) Contexts(_ context.Context, query string, _ int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.contexts != nil {
		return f.contexts, nil
	}
	return []string{"context for " + query}, nil
}

// fakeAnswerer echoes a deterministic answer or a fixed error.
type fakeAnswerer struct {
	err error
}

func (f *fakeAnswerer) Generate(_ context.Context, question string, contexts []string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("answer to %q using %d contexts", question, len(contexts)), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// startPipeline runs both stage loops over a fresh in-memory bus and
// blocks until both are subscribed.
func startPipeline(t *testing.T, provider ContextProvider, answerer Answerer) *bus.Memory {
	t.Helper()

	b := bus.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
	})

	m := NewMetrics(prometheus.NewRegistry())
	go func() { _ = NewRetrievalStage(b, provider, testTTL, discardLogger(), m).Run(ctx) }()
	go func() { _ = NewGenerationStage(b, answerer, testTTL, discardLogger(), m).Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers(bus.TopicQuestions) == 0 || b.Subscribers(bus.TopicGeneration) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stages did not subscribe in time")
		}
		time.Sleep(time.Millisecond)
	}
	return b
}

func publishQuestion(t *testing.T, b bus.Bus, q Question) {
	t.Helper()
	payload, err := Marshal(q)
	if err != nil {
		t.Fatalf("marshal question: %v", err)
	}
	if err := b.Publish(context.Background(), bus.TopicQuestions, payload); err != nil {
		t.Fatalf("publish question: %v", err)
	}
}

func pollResponse(t *testing.T, b bus.Bus, id string) Response {
	t.Helper()
	payload, err := bus.Poll(context.Background(), b, bus.ResponseKey(id), 10*time.Millisecond, 200)
	if err != nil {
		t.Fatalf("poll for %q failed: %v", id, err)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func Test_Pipeline_EndToEndCompletes(t *testing.T) {
	t.Parallel()

	b := startPipeline(t, &fakeContexts{}, &fakeAnswerer{})

	publishQuestion(t, b, Question{ID: "req-1", Question: "What is Docker?", K: 2})
	resp := pollResponse(t, b, "req-1")

	if resp.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %q (error %q)", resp.Status, resp.Error)
	}
	if resp.ID != "req-1" || resp.Question != "What is Docker?" {
		t.Fatalf("correlation fields corrupted: %+v", resp)
	}
	if len(resp.Contexts) != 1 || !strings.Contains(resp.Contexts[0], "What is Docker?") {
		t.Fatalf("unexpected contexts: %v", resp.Contexts)
	}
	if resp.Answer == "" {
		t.Fatal("expected a non-empty answer")
	}
}

func Test_Pipeline_DistinctIDsNeverCross(t *testing.T) {
	t.Parallel()

	b := startPipeline(t, &fakeContexts{}, &fakeAnswerer{})

	publishQuestion(t, b, Question{ID: "id-a", Question: "question alpha", K: 1})
	publishQuestion(t, b, Question{ID: "id-b", Question: "question beta", K: 1})

	respA := pollResponse(t, b, "id-a")
	respB := pollResponse(t, b, "id-b")

	if respA.ID != "id-a" || !strings.Contains(respA.Answer, "question alpha") {
		t.Fatalf("poll for id-a returned foreign record: %+v", respA)
	}
	if respB.ID != "id-b" || !strings.Contains(respB.Answer, "question beta") {
		t.Fatalf("poll for id-b returned foreign record: %+v", respB)
	}
}

func Test_Pipeline_MalformedMessageDroppedLoopContinues(t *testing.T) {
	t.Parallel()

	b := startPipeline(t, &fakeContexts{}, &fakeAnswerer{})

	if err := b.Publish(context.Background(), bus.TopicQuestions, []byte("{not json")); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}
	// The loop must survive the malformed message and process the next.
	publishQuestion(t, b, Question{ID: "after-garbage", Question: "still alive?", K: 1})

	resp := pollResponse(t, b, "after-garbage")
	if resp.Status != StatusCompleted {
		t.Fatalf("expected completed status after malformed message, got %q", resp.Status)
	}
}

func Test_Pipeline_MissingIDDroppedWithoutRecord(t *testing.T) {
	t.Parallel()

	b := startPipeline(t, &fakeContexts{}, &fakeAnswerer{})

	if err := b.Publish(context.Background(), bus.TopicQuestions, []byte(`{"question":"no id","k":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// Without an id there is nothing to correlate; no record may appear.
	_, err := bus.Poll(context.Background(), b, bus.ResponseKey(""), 10*time.Millisecond, 5)
	if !errors.Is(err, bus.ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
}

func Test_Pipeline_MissingQuestionResolvesAsFailed(t *testing.T) {
	t.Parallel()

	b := startPipeline(t, &fakeContexts{}, &fakeAnswerer{})

	publishQuestion(t, b, Question{ID: "no-question", Question: "   ", K: 1})
	resp := pollResponse(t, b, "no-question")

	if resp.Status != StatusFailed {
		t.Fatalf("expected failed status, got %q", resp.Status)
	}
	if resp.Error == "" {
		t.Fatal("expected an error detail on the failure record")
	}
}

func Test_RetrievalStage_UpstreamErrorResolvesAsFailed(t *testing.T) {
	t.Parallel()

	b := startPipeline(t, &fakeContexts{err: errors.New("embedding provider down")}, &fakeAnswerer{})

	publishQuestion(t, b, Question{ID: "retr-err", Question: "anything", K: 1})
	resp := pollResponse(t, b, "retr-err")

	if resp.Status != StatusFailed {
		t.Fatalf("expected failed status, got %q", resp.Status)
	}
	if !strings.Contains(resp.Error, "retrieval failed") {
		t.Fatalf("expected retrieval failure detail, got %q", resp.Error)
	}
}

func Test_GenerationStage_UpstreamErrorResolvesAsFailed(t *testing.T) {
	t.Parallel()

	b := startPipeline(t, &fakeContexts{}, &fakeAnswerer{err: errors.New("model unavailable")})

	publishQuestion(t, b, Question{ID: "gen-err", Question: "anything", K: 1})
	resp := pollResponse(t, b, "gen-err")

	if resp.Status != StatusFailed {
		t.Fatalf("expected failed status, got %q", resp.Status)
	}
	if !strings.Contains(resp.Error, "generation failed") {
		t.Fatalf("expected generation failure detail, got %q", resp.Error)
	}
}

func Test_StageMetrics_CountOutcomes(t *testing.T) {
	t.Parallel()

	b := bus.NewMemory()
	t.Cleanup(func() { _ = b.Close() })

	m := NewMetrics(prometheus.NewRegistry())
	stage := NewRetrievalStage(b, &fakeContexts{}, testTTL, discardLogger(), m)

	stage.handle(context.Background(), []byte("{not json"))
	stage.handle(context.Background(), []byte(`{"id":"m1","question":"q","k":1}`))

	if got := testutil.ToFloat64(m.messagesTotal.WithLabelValues(stageRetrieval, outcomeDropped)); got != 1 {
		t.Fatalf("expected 1 dropped message, got %v", got)
	}
	if got := testutil.ToFloat64(m.messagesTotal.WithLabelValues(stageRetrieval, outcomeOK)); got != 1 {
		t.Fatalf("expected 1 ok message, got %v", got)
	}
}
