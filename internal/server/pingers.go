package server

import (
	"context"
	"fmt"

	"github.com/devhelper/devhelper-go/internal/bus"
)

// BusPinger probes the message bus. It is the gateway's only hard
// dependency: without the bus, questions can be neither published nor
// answered.
type BusPinger struct {
	// Bus is the bus connection to probe.
	Bus bus.Bus
	// Label overrides the default "redis" name in readiness responses.
	Label string
}

// Ping delegates to the bus connection.
func (p *BusPinger) Ping(ctx context.Context) error {
	if p.Bus == nil {
		return fmt.Errorf("bus connection not configured")
	}
	return p.Bus.Ping(ctx)
}

// Name returns the dependency label.
func (p *BusPinger) Name() string {
	if p.Label != "" {
		return p.Label
	}
	return "redis"
}
