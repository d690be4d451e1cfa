package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/devhelper/devhelper-go/internal/bus"
)

// ContextProvider supplies ranked context texts for a question. It is
// satisfied by retriever.Retriever.
type ContextProvider interface {
	Contexts(ctx context.Context, query string, k int) ([]string, error)
}

// RetrievalStage subscribes to the questions topic, retrieves contexts
// for each question and republishes the enriched envelope on the
// generation topic. Retrieval failures terminate the request with a
// failed response record so the originator's poll resolves instead of
// timing out.
type RetrievalStage struct {
	bus     bus.Bus
	retr    ContextProvider
	ttl     time.Duration
	log     *slog.Logger
	metrics *Metrics
}

// NewRetrievalStage constructs a retrieval stage. ttl bounds the
// lifetime of failure records it writes.
func NewRetrievalStage(b bus.Bus, r ContextProvider, ttl time.Duration, log *slog.Logger, m *Metrics) *RetrievalStage {
	if log == nil {
		log = slog.Default()
	}
	return &RetrievalStage{bus: b, retr: r, ttl: ttl, log: log, metrics: m}
}

// Run subscribes and processes messages until ctx is cancelled or the
// bus closes. Messages are handled strictly one at a time.
func (s *RetrievalStage) Run(ctx context.Context) error {
	msgs, err := s.bus.Subscribe(ctx, bus.TopicQuestions)
	if err != nil {
		return err
	}
	s.log.Info("retrieval stage listening", "topic", bus.TopicQuestions)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *RetrievalStage) handle(ctx context.Context, payload []byte) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.stageDurationSeconds.WithLabelValues(stageRetrieval).Observe(time.Since(start).Seconds())
		}
	}()

	var q Question
	if err := json.Unmarshal(payload, &q); err != nil {
		s.log.Warn("dropping malformed question message", "error", err)
		s.count(outcomeDropped)
		return
	}
	if q.ID == "" {
		s.log.Warn("dropping question without correlation id")
		s.count(outcomeDropped)
		return
	}
	if strings.TrimSpace(q.Question) == "" {
		s.fail(ctx, q.ID, q.Question, nil, "question field is missing", start)
		return
	}

	contexts, err := s.retr.Contexts(ctx, q.Question, q.K)
	if err != nil {
		s.log.Error("retrieval failed", "id", q.ID, "error", err)
		s.fail(ctx, q.ID, q.Question, nil, "retrieval failed: "+err.Error(), start)
		return
	}

	out, err := Marshal(Generation{ID: q.ID, Question: q.Question, Contexts: contexts})
	if err != nil {
		s.fail(ctx, q.ID, q.Question, contexts, err.Error(), start)
		return
	}
	if err := s.bus.Publish(ctx, bus.TopicGeneration, out); err != nil {
		s.log.Error("publish to generation topic failed", "id", q.ID, "error", err)
		s.fail(ctx, q.ID, q.Question, contexts, "publish failed: "+err.Error(), start)
		return
	}

	s.log.Info("question forwarded for generation", "id", q.ID, "contexts", len(contexts))
	s.count(outcomeOK)
}

// fail writes a failed response record so the originator's poll
// terminates deterministically.
func (s *RetrievalStage) fail(ctx context.Context, id, question string, contexts []string, detail string, start time.Time) {
	writeFailure(ctx, s.bus, id, question, contexts, detail, time.Since(start), s.ttl, s.log)
	s.count(outcomeFailed)
}

func (s *RetrievalStage) count(outcome string) {
	if s.metrics != nil {
		s.metrics.messagesTotal.WithLabelValues(stageRetrieval, outcome).Inc()
	}
}

// writeFailure stores a StatusFailed response record under the id's
// response key. A record-store write failure at this point is only
// loggable; the originator will time out instead.
func writeFailure(ctx context.Context, b bus.Bus, id, question string, contexts []string, detail string, elapsed, ttl time.Duration, log *slog.Logger) {
	record := Response{
		ID:       id,
		Question: question,
		Contexts: contexts,
		Status:   StatusFailed,
		Elapsed:  elapsed.Seconds(),
		Error:    detail,
	}
	payload, err := Marshal(record)
	if err != nil {
		log.Error("marshal failure record", "id", id, "error", err)
		return
	}
	if err := b.Set(ctx, bus.ResponseKey(id), payload, ttl); err != nil {
		log.Error("store failure record", "id", id, "error", err)
	}
}
