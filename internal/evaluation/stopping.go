package evaluation

import "sync"

// minDatapoints mirrors the original implementation's MIN_DATAPOINTS: no
// evaluator stops on a datapoint dispatched before this position in the
// run, so a lucky early streak never looks like convergence.
const minDatapoints = 20

// stoppingTokens tracks one cancellation flag per evaluator with a
// configured precision target. An empty set means adaptive stopping is not
// in effect for this run. Grounded on the original implementation's
// CancellationTokens/StoppingManager (stopping.rs), reshaped from
// tokio_util::CancellationToken into a plain mutex-guarded bool set since
// nothing here needs to propagate a context cancellation signal downstream.
type stoppingTokens struct {
	mu        sync.Mutex
	targets   map[string]float64
	stats     map[string]*runningStats
	cancelled map[string]bool
}

func newStoppingTokens(targets map[string]float64) *stoppingTokens {
	t := &stoppingTokens{
		targets:   targets,
		stats:     make(map[string]*runningStats, len(targets)),
		cancelled: make(map[string]bool, len(targets)),
	}

	for name := range targets {
		t.stats[name] = &runningStats{}
	}

	return t
}

// active reports whether adaptive stopping is configured at all.
func (t *stoppingTokens) active() bool {
	return len(t.targets) > 0
}

// isStopped reports whether evaluator has already converged and should be
// skipped for subsequent datapoints.
func (t *stoppingTokens) isStopped(evaluatorName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cancelled[evaluatorName]
}

// record folds one new score into evaluatorName's running stats, then
// re-checks its stopping condition once completed (the datapoint's 1-based
// position in the run's dispatch order) has reached minDatapoints (spec.md
// §4.I step 5). completed counts datapoints across the whole run, not
// results recorded for this evaluator.
func (t *stoppingTokens) record(evaluatorName string, value float64, completed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, tracked := t.stats[evaluatorName]
	if !tracked {
		return
	}

	stats.push(value)

	if completed < minDatapoints {
		return
	}

	target, ok := t.targets[evaluatorName]
	if !ok || t.cancelled[evaluatorName] {
		return
	}

	if halfWidth, ok := stats.ciHalfWidth(); ok && halfWidth <= target {
		t.cancelled[evaluatorName] = true
	}
}

// allStopped reports whether every evaluator under adaptive stopping has
// converged; the caller stops enqueuing new datapoints once this is true.
func (t *stoppingTokens) allStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.targets) == 0 {
		return false
	}

	for name := range t.targets {
		if !t.cancelled[name] {
			return false
		}
	}

	return true
}
