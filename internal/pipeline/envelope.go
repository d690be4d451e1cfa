// Package pipeline implements the stage loops that carry a question
// from intake through retrieval to generation, correlated by id over
// the bus. Each stage is a single-threaded subscribe-and-process loop:
// one message is fully handled, including any outbound publish or
// record write, before the next is pulled.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request status values. Status is carried as an explicit field on the
// response record rather than inferred from record presence.
const (
	// StatusPending marks a request that has been accepted but not yet
	// answered.
	StatusPending = "pending"
	// StatusCompleted marks a request answered successfully.
	StatusCompleted = "completed"
	// StatusFailed marks a request that terminated with an error; the
	// Error field carries the detail.
	StatusFailed = "failed"
)

// Question is the envelope published on the questions topic by the
// intake layer.
type Question struct {
	// ID is the correlation id threading this request through the
	// pipeline.
	ID string `json:"id"`
	// Question is the raw user question.
	Question string `json:"question"`
	// K is the number of contexts to retrieve; 0 means the retrieval
	// stage default.
	K int `json:"k"`
}

// Generation is the envelope published on the generation topic by the
// retrieval stage.
type Generation struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	// Contexts are the retrieved document texts, best match first.
	Contexts []string `json:"contexts"`
}

// Response is the terminal record written under response:<id>. It is
// written exactly once per request and expires after the response TTL.
type Response struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Contexts []string `json:"contexts"`
	Answer   string   `json:"answer"`
	// Status is one of StatusPending, StatusCompleted or StatusFailed.
	Status string `json:"status"`
	// Elapsed is the stage processing time in seconds.
	Elapsed float64 `json:"elapsed"`
	// Error carries the failure detail when Status is StatusFailed.
	Error string `json:"error,omitempty"`
}

// Request is the bookkeeping record written under request:<id> at
// intake time. Its TTL is independent of the response TTL.
type Request struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	K         int       `json:"k"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Marshal encodes an envelope for the wire.
func Marshal(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshal envelope: %w", err)
	}
	return payload, nil
}
