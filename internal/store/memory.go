// Package store persists lobby collections. Memory keeps an event journal in
// process; Gorm writes the collections to postgres tables.
package store

import (
	"context"
	"slices"
	"sync"

	"github.com/DoyleJ11/lobby-matchmaker/internal/matchmaking"
)

// Memory is an append-only event journal. Load replays it.
type Memory struct {
	mu      sync.Mutex
	journal []matchmaking.Event
}

func NewMemory(seed ...matchmaking.Event) *Memory {
	return &Memory{journal: slices.Clone(seed)}
}

func (m *Memory) Load(ctx context.Context) (matchmaking.State, error) {
	if err := ctx.Err(); err != nil {
		return matchmaking.State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return matchmaking.Reduce(m.journal), nil
}

func (m *Memory) Commit(ctx context.Context, events []matchmaking.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = append(m.journal, events...)
	return nil
}

func (m *Memory) Journal() []matchmaking.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.journal)
}
