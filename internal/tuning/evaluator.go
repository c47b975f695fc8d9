package tuning

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/banshee-data/tagtune/internal/pipeline"
	"github.com/banshee-data/tagtune/internal/settings"
)

// StageRunner runs one pipeline stage (and whatever of its upstream work is
// not carried by the item) on an item and measures the result with the
// partition evaluator. A runner is used by one goroutine at a time.
type StageRunner interface {
	Load(b settings.Bundle) error
	Run(it Item, ev Evaluator) Measurement
	// Produce returns the stage output for it, for use as the next stage's
	// upstream tags.
	Produce(it Item) []pipeline.Tag
}

// RunnerFactory builds a fresh StageRunner.
type RunnerFactory func() StageRunner

// CorpusEvaluator runs a stage over every item of a corpus. With more than
// one worker, partitions are spread over a worker pool and every worker
// owns its own runner.
type CorpusEvaluator struct {
	newRunner RunnerFactory
	workers   int

	mu      sync.Mutex
	runners []StageRunner
}

// NewCorpusEvaluator returns an evaluator building runners with factory.
// workers below 1 means one per CPU.
func NewCorpusEvaluator(factory RunnerFactory, workers int) *CorpusEvaluator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CorpusEvaluator{newRunner: factory, workers: workers}
}

// Workers returns the number of runners used concurrently.
func (ce *CorpusEvaluator) Workers() int { return ce.workers }

func (ce *CorpusEvaluator) runnersFor(n int) []StageRunner {
	for len(ce.runners) < n {
		ce.runners = append(ce.runners, ce.newRunner())
	}
	return ce.runners[:n]
}

// Run loads b into the runners and measures every item. The result holds
// one slice per partition, in corpus order. The partition evaluator is reset
// after every item. Cancellation is observed between items.
func (ce *CorpusEvaluator) Run(ctx context.Context, c *Corpus, b settings.Bundle) ([][]Measurement, error) {
	if c == nil || c.Len() == 0 {
		return nil, ErrEmptyCorpus
	}
	ce.mu.Lock()
	defer ce.mu.Unlock()

	n := min(ce.workers, len(c.Partitions))
	runners := ce.runnersFor(n)
	for _, r := range runners {
		if err := r.Load(b); err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
	}

	out := make([][]Measurement, len(c.Partitions))
	if n == 1 {
		for i, p := range c.Partitions {
			ms, err := runPartition(ctx, runners[0], p)
			if err != nil {
				return nil, err
			}
			out[i] = ms
		}
		return out, nil
	}

	errs := make([]error, len(c.Partitions))
	pool := newWorkerPool(n)
	pool.Start()
	for i, p := range c.Partitions {
		pool.Submit(func(worker int) {
			out[i], errs[i] = runPartition(ctx, runners[worker], p)
		})
	}
	pool.Wait()
	pool.Close()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func runPartition(ctx context.Context, r StageRunner, p *Partition) ([]Measurement, error) {
	ms := make([]Measurement, 0, len(p.Items))
	for _, it := range p.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ms = append(ms, r.Run(it, p.Evaluator))
		p.Evaluator.Reset()
	}
	return ms, nil
}

// Produce runs the stage with b over the corpus and returns a corpus whose
// items carry the stage output as upstream tags.
func (ce *CorpusEvaluator) Produce(c *Corpus, b settings.Bundle) (*Corpus, error) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	r := ce.runnersFor(1)[0]
	if err := r.Load(b); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return c.Derive(r.Produce), nil
}
