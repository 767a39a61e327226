package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/nuka-mind/internal/processor"
	"github.com/nidhogg/nuka-mind/internal/thought"
)

const (
	DefaultWorkers      = 4
	DefaultPollInterval = 500 * time.Millisecond
	DefaultStaleAfter   = 5 * time.Minute
)

// Processor handles one thought per call.
type Processor interface {
	ProcessNext(ctx context.Context) (processor.Outcome, error)
}

// Source delivers wake-ups from outside the process.
type Source interface {
	Subscribe(ctx context.Context) <-chan Wake
}

// Recoverer returns thoughts abandoned in PROCESSING to the queue.
type Recoverer interface {
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	InFlight  int64 `json:"in_flight"`
	Processed int64 `json:"processed"`
	Requeued  int64 `json:"requeued"`
	Errors    int64 `json:"errors"`
	Recovered int64 `json:"recovered"`
}

// Pool runs a fixed number of workers, each pulling one thought at a time.
type Pool struct {
	proc    Processor
	workers int
	poll    time.Duration
	source  Source
	wake    chan struct{}
	logger  *zap.Logger

	recoverer  Recoverer
	staleAfter time.Duration

	inFlight  atomic.Int64
	processed atomic.Int64
	requeued  atomic.Int64
	errs      atomic.Int64
	recovered atomic.Int64
}

type Option func(*Pool)

// WithSource lets idle workers wake on external notifications.
func WithSource(s Source) Option {
	return func(p *Pool) { p.source = s }
}

// WithRecovery requeues thoughts that have sat in PROCESSING longer than
// staleAfter, once when Run starts and then periodically.
func WithRecovery(r Recoverer, staleAfter time.Duration) Option {
	return func(p *Pool) {
		p.recoverer = r
		p.staleAfter = staleAfter
		if p.staleAfter <= 0 {
			p.staleAfter = DefaultStaleAfter
		}
	}
}

// NewPool creates a pool. Non-positive sizes fall back to defaults.
func NewPool(proc Processor, workers int, poll time.Duration, logger *zap.Logger, opts ...Option) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	p := &Pool{
		proc:    proc,
		workers: workers,
		poll:    poll,
		wake:    make(chan struct{}, workers),
		logger:  logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Notify wakes one idle worker. It never blocks.
func (p *Pool) Notify(_ context.Context, _ string) error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run blocks until ctx is cancelled. Each worker finishes the thought it is
// on before returning.
func (p *Pool) Run(ctx context.Context) error {
	if p.recoverer != nil {
		p.recoverStale(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	if p.recoverer != nil {
		g.Go(func() error {
			ticker := time.NewTicker(p.staleAfter / 2)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					p.recoverStale(gctx)
				}
			}
		})
	}
	if p.source != nil {
		g.Go(func() error {
			for range p.source.Subscribe(gctx) {
				p.Notify(gctx, "")
			}
			return nil
		})
	}
	for i := range p.workers {
		g.Go(func() error {
			p.loop(gctx, i)
			return nil
		})
	}

	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Duration("poll", p.poll))
	err := g.Wait()
	p.logger.Info("worker pool stopped", zap.Int64("processed", p.processed.Load()))
	return err
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("worker", id))
	timer := time.NewTimer(p.poll)
	defer timer.Stop()

	for ctx.Err() == nil {
		p.inFlight.Add(1)
		out, err := p.proc.ProcessNext(ctx)
		p.inFlight.Add(-1)

		switch {
		case err != nil:
			p.errs.Add(1)
			var fe *thought.FollowUpCreationError
			if errors.As(err, &fe) {
				log.Error("reasoning chain broken; operator attention needed",
					zap.String("severity", "critical"),
					zap.String("thought_id", fe.ThoughtID),
					zap.String("task_id", fe.TaskID),
					zap.Error(err))
			} else {
				log.Warn("process next failed", zap.Error(err))
			}
		case out.Processed:
			if out.TerminalStatus == thought.StatusPending {
				p.requeued.Add(1)
			} else {
				p.processed.Add(1)
			}
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.poll)
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

func (p *Pool) recoverStale(ctx context.Context) {
	n, err := p.recoverer.RecoverStale(ctx, time.Now().Add(-p.staleAfter))
	if err != nil {
		p.logger.Warn("recover stale thoughts failed", zap.Error(err))
		return
	}
	if n > 0 {
		p.recovered.Add(int64(n))
		p.logger.Info("stale thoughts requeued", zap.Int("count", n), zap.Duration("stale_after", p.staleAfter))
		for range n {
			p.Notify(ctx, "")
		}
	}
}

// Stats reports counters since the pool was created.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		InFlight:  p.inFlight.Load(),
		Processed: p.processed.Load(),
		Requeued:  p.requeued.Load(),
		Errors:    p.errs.Load(),
		Recovered: p.recovered.Load(),
	}
}
