// Package mock provides a scripted roadmap generator for testing.
package mock

import (
	"context"
	"sync"

	"github.com/aveline-ai/recal/internal/generator"
	"github.com/aveline-ai/recal/internal/models"
)

// Result is one scripted generation outcome.
type Result struct {
	Draft *generator.Draft
	Err   error
}

// Generator implements generator.Generator with a queue of scripted results.
// When the queue runs out it keeps returning the last result.
type Generator struct {
	mu      sync.Mutex
	results []Result
	idx     int
	calls   int

	lastRevision *generator.RevisionRequest

	// Gate, when set, blocks each call until the channel is closed or the
	// context expires. Used to hold a rebalance attempt in flight.
	Gate chan struct{}
}

// New creates a Generator that plays back the given results in order.
func New(results ...Result) *Generator {
	return &Generator{results: results}
}

// Name returns the generator identifier.
func (g *Generator) Name() string { return "mock" }

// Calls reports how many generation calls were made.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// LastRevision returns the most recent revision payload, for assertions.
func (g *Generator) LastRevision() *generator.RevisionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRevision
}

// GenerateInitial returns the next scripted result.
func (g *Generator) GenerateInitial(ctx context.Context, _ *models.UserProfile) (*generator.Draft, error) {
	return g.next(ctx)
}

// Revise records the payload and returns the next scripted result.
func (g *Generator) Revise(ctx context.Context, req *generator.RevisionRequest) (*generator.Draft, error) {
	g.mu.Lock()
	g.lastRevision = req
	g.mu.Unlock()
	return g.next(ctx)
}

func (g *Generator) next(ctx context.Context) (*generator.Draft, error) {
	g.mu.Lock()
	g.calls++
	gate := g.Gate
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.results) == 0 {
		return &generator.Draft{}, nil
	}
	r := g.results[g.idx]
	if g.idx < len(g.results)-1 {
		g.idx++
	}
	return r.Draft, r.Err
}
