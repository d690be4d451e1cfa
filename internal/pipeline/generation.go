package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/devhelper/devhelper-go/internal/bus"
)

// Answerer produces the final answer for a question given its retrieved
// contexts.
type Answerer interface {
	Generate(ctx context.Context, question string, contexts []string) (string, error)
}

// GenerationStage subscribes to the generation topic, produces an
// answer for each enriched question and writes the terminal response
// record under the request's correlation id. It is the only writer of
// completed records.
type GenerationStage struct {
	bus      bus.Bus
	answerer Answerer
	ttl      time.Duration
	log      *slog.Logger
	metrics  *Metrics
}

// NewGenerationStage constructs a generation stage. ttl bounds the
// lifetime of the response records it writes.
func NewGenerationStage(b bus.Bus, a Answerer, ttl time.Duration, log *slog.Logger, m *Metrics) *GenerationStage {
	if log == nil {
		log = slog.Default()
	}
	return &GenerationStage{bus: b, answerer: a, ttl: ttl, log: log, metrics: m}
}

// Run subscribes and processes messages until ctx is cancelled or the
// bus closes. Messages are handled strictly one at a time.
func (s *GenerationStage) Run(ctx context.Context) error {
	msgs, err := s.bus.Subscribe(ctx, bus.TopicGeneration)
	if err != nil {
		return err
	}
	s.log.Info("generation stage listening", "topic", bus.TopicGeneration)

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

func (s *GenerationStage) handle(ctx context.Context, payload []byte) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.stageDurationSeconds.WithLabelValues(stageGeneration).Observe(time.Since(start).Seconds())
		}
	}()

	var g Generation
	if err := json.Unmarshal(payload, &g); err != nil {
		s.log.Warn("dropping malformed generation message", "error", err)
		s.count(outcomeDropped)
		return
	}
	if g.ID == "" {
		s.log.Warn("dropping generation message without correlation id")
		s.count(outcomeDropped)
		return
	}
	if strings.TrimSpace(g.Question) == "" {
		s.fail(ctx, g.ID, g.Question, g.Contexts, "question field is missing", start)
		return
	}

	answer, err := s.answerer.Generate(ctx, g.Question, g.Contexts)
	if err != nil {
		s.log.Error("generation failed", "id", g.ID, "error", err)
		s.fail(ctx, g.ID, g.Question, g.Contexts, "generation failed: "+err.Error(), start)
		return
	}

	record := Response{
		ID:       g.ID,
		Question: g.Question,
		Contexts: g.Contexts,
		Answer:   answer,
		Status:   StatusCompleted,
		Elapsed:  time.Since(start).Seconds(),
	}
	out, err := Marshal(record)
	if err != nil {
		s.fail(ctx, g.ID, g.Question, g.Contexts, err.Error(), start)
		return
	}
	if err := s.bus.Set(ctx, bus.ResponseKey(g.ID), out, s.ttl); err != nil {
		s.log.Error("store response record", "id", g.ID, "error", err)
		s.count(outcomeFailed)
		return
	}

	s.log.Info("answer stored", "id", g.ID, "elapsed", record.Elapsed)
	s.count(outcomeOK)
}

func (s *GenerationStage) fail(ctx context.Context, id, question string, contexts []string, detail string, start time.Time) {
	writeFailure(ctx, s.bus, id, question, contexts, detail, time.Since(start), s.ttl, s.log)
	s.count(outcomeFailed)
}

func (s *GenerationStage) count(outcome string) {
	if s.metrics != nil {
		s.metrics.messagesTotal.WithLabelValues(stageGeneration, outcome).Inc()
	}
}
