package service

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-intake/internal/domain/record"
	"github.com/FACorreiaa/ledger-intake/pkg/observability"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("processing queue is full")
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("processing pool is closed")
)

// Job is one AI response waiting to be processed.
type Job struct {
	PieceID         uuid.UUID
	Payload         any
	IsBankStatement bool
}

// Processor runs the pipeline for a single piece.
type Processor interface {
	Process(ctx context.Context, pieceID uuid.UUID, payload any, isBankStatement bool) (*record.Result, error)
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// Pool processes jobs on a fixed number of workers fed by a bounded queue.
type Pool struct {
	processor Processor
	jobs      chan Job
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts cfg.Workers workers. Jobs run detached from ctx
// cancellation so that a piece in PROCESSING always reaches a final state.
func NewPool(ctx context.Context, processor Processor, cfg PoolConfig, logger *slog.Logger) *Pool {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		processor: processor,
		jobs:      make(chan Job, queueSize),
		logger:    logger,
	}

	base := context.WithoutCancel(ctx)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(base)
	}
	return p
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		observability.QueueDepth.Set(float64(len(p.jobs)))
		p.run(ctx, job)
	}
}

// run processes one job. A panic is logged and the worker keeps going.
func (p *Pool) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("processing job panicked",
				"piece_id", job.PieceID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	if _, err := p.processor.Process(ctx, job.PieceID, job.Payload, job.IsBankStatement); err != nil {
		p.logger.Warn("processing job failed", "piece_id", job.PieceID, "error", err)
	}
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		observability.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish or for
// ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
