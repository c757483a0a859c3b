package oracle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/reel/errors"
)

// Candidate is one provider's successful answer.
type Candidate[T any] struct {
	Provider string `json:"provider"`
	Value    T      `json:"value"`
}

// FanOut runs fn against every backend concurrently, bounded by timeout.
// A failing provider contributes no candidate. Candidates come back in
// backend order. If every provider fails, the error combines each
// provider's error.
func FanOut[T any](ctx context.Context, backends []*Backend, timeout time.Duration, fn func(ctx context.Context, b *Backend) (T, error)) ([]Candidate[T], error) {
	if len(backends) == 0 {
		return nil, errors.New("no providers configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make([]*Candidate[T], len(backends))
	var (
		mu       sync.Mutex
		combined error
	)

	// Provider errors are collected rather than returned so one failure
	// does not cancel its siblings.
	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			value, err := fn(ctx, b)
			if err != nil {
				mu.Lock()
				combined = multierr.Append(combined, errors.Wrapf(err, "provider %s", b.Name))
				mu.Unlock()
				return nil
			}
			results[i] = &Candidate[T]{Provider: b.Name, Value: value}
			return nil
		})
	}
	_ = g.Wait()

	candidates := make([]Candidate[T], 0, len(results))
	for _, c := range results {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	if len(candidates) == 0 {
		err := errors.Wrapf(combined, "all %d providers failed", len(backends))
		if allTransient(combined) {
			err = errors.MarkTransient(err)
		}
		return nil, err
	}
	return candidates, nil
}

func allTransient(err error) bool {
	errs := multierr.Errors(err)
	if len(errs) == 0 {
		return false
	}
	for _, e := range errs {
		if !errors.IsTransient(e) {
			return false
		}
	}
	return true
}
