// Package sequence runs named multi-endpoint transactions. A Sequence is an
// ordered chain of steps, each owned by one endpoint, that share a set of
// per-instance variables. Once every step has run, each endpoint's completion
// handler fires exactly once.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-matchmaker/internal/metrics"
)

var ErrEngineClosed = errors.New("sequence engine closed")

type Endpoint string

const (
	Client Endpoint = "Client"
	Lobby  Endpoint = "Lobby"
)

type StepFunc[V any] func(ctx context.Context, vars *V) error

type Step[V any] struct {
	Endpoint Endpoint
	Name     string
	Run      StepFunc[V]
}

// CompleteFunc receives the final variables of the instance. err is non-nil
// when a step failed; the variables then hold whatever the steps before the
// failure wrote.
type CompleteFunc[V any] func(ctx context.Context, vars V, err error)

type Sequence[V any] struct {
	Name       string
	Steps      []Step[V]
	OnComplete map[Endpoint]CompleteFunc[V]
}

// StepError identifies the step that aborted an instance.
type StepError struct {
	Sequence string
	Endpoint Endpoint
	Step     string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s.%s: %v", e.Sequence, e.Endpoint, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type Engine struct {
	log *zap.Logger

	mu     sync.Mutex
	closed bool
	// running counts spawned instances; idle is signalled when it drops to 0.
	running int
	idle    *sync.Cond
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{log: log.Named("sequence")}
	e.idle = sync.NewCond(&e.mu)
	return e
}

// Run executes one instance of seq started by initiator and blocks until all
// completion handlers have returned.
func Run[V any](ctx context.Context, e *Engine, seq Sequence[V], initiator Endpoint, vars V) (V, error) {
	id := uuid.New()
	start := time.Now()
	log := e.log.With(
		zap.String("sequence", seq.Name),
		zap.Stringer("instance", id),
		zap.String("initiator", string(initiator)),
	)

	var runErr error
	for _, step := range seq.Steps {
		if err := ctx.Err(); err != nil {
			runErr = &StepError{Sequence: seq.Name, Endpoint: step.Endpoint, Step: step.Name, Err: err}
			break
		}
		log.Debug("step", zap.String("endpoint", string(step.Endpoint)), zap.String("step", step.Name))
		if err := step.Run(ctx, &vars); err != nil {
			runErr = &StepError{Sequence: seq.Name, Endpoint: step.Endpoint, Step: step.Name, Err: err}
			break
		}
	}

	if runErr != nil {
		log.Info("sequence failed", zap.Error(runErr))
	}

	for _, ep := range completionOrder(seq, initiator) {
		log.Debug("complete", zap.String("endpoint", string(ep)))
		seq.OnComplete[ep](ctx, vars, runErr)
	}
	metrics.RecordSequence(seq.Name, runErr == nil, time.Since(start))
	return vars, runErr
}

// Spawn starts an independent instance in its own goroutine. The caller does
// not wait for it; Engine.Wait does.
func Spawn[V any](ctx context.Context, e *Engine, seq Sequence[V], initiator Endpoint, vars V) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.running++
	e.mu.Unlock()

	go func() {
		defer e.finish()
		_, _ = Run(ctx, e, seq, initiator, vars)
	}()
	return nil
}

func (e *Engine) finish() {
	e.mu.Lock()
	e.running--
	if e.running == 0 {
		e.idle.Broadcast()
	}
	e.mu.Unlock()
}

// Close stops accepting spawned instances and waits for the running ones.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.Wait()
}

// Wait blocks until no spawned instance is running. Instances spawned while
// Wait blocks, including from completions, are waited for too.
func (e *Engine) Wait() {
	e.mu.Lock()
	for e.running > 0 {
		e.idle.Wait()
	}
	e.mu.Unlock()
}

// completionOrder lists endpoints with a completion handler in the order
// they first appear in the steps, with the initiator moved last. Endpoints
// that own no step fire right before the initiator.
func completionOrder[V any](seq Sequence[V], initiator Endpoint) []Endpoint {
	order := make([]Endpoint, 0, len(seq.OnComplete))
	seen := map[Endpoint]bool{initiator: true}
	for _, step := range seq.Steps {
		if seen[step.Endpoint] {
			continue
		}
		seen[step.Endpoint] = true
		if seq.OnComplete[step.Endpoint] != nil {
			order = append(order, step.Endpoint)
		}
	}
	for ep, fn := range seq.OnComplete {
		if !seen[ep] && fn != nil {
			order = append(order, ep)
		}
	}
	if seq.OnComplete[initiator] != nil {
		order = append(order, initiator)
	}
	return order
}
