package selfplay

import (
	"context"
	"fmt"
	"log"
	"sync"

	"sente/pkg/rl"
	"sente/pkg/shogi"
)

// CollectStats summarizes one collection epoch.
type CollectStats struct {
	Episodes    int
	Transitions int
	BlackWins   int
	WhiteWins   int
	Draws       int
	TotalPlies  int
	// Carried counts episodes that did not fit the buffer this epoch
	// and were held back for the next one. Held-back experience is
	// never dropped silently.
	Carried int
}

// Runner fills an experience buffer with complete self-play episodes.
// Episodes are ingested whole so every Done boundary inside the buffer
// is a true episode boundary; an episode that does not fit is carried
// over to the next epoch rather than split or discarded.
type Runner struct {
	policy    Policy
	buf       *rl.Buffer
	logger    *log.Logger
	workers   int
	moveLimit int

	mu        sync.Mutex // serializes policy access from workers
	carried   []*Episode
	onEpisode func(*Episode) error
}

// OnEpisode registers a callback invoked for every episode ingested
// into the buffer. Used for game-record persistence; a callback error
// aborts the collection epoch.
func (r *Runner) OnEpisode(fn func(*Episode) error) { r.onEpisode = fn }

// NewRunner creates a collection runner over buf. workers <= 1 means
// sequential collection.
func NewRunner(policy Policy, buf *rl.Buffer, workers, moveLimit int, logger *log.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		policy:    policy,
		buf:       buf,
		logger:    logger,
		workers:   workers,
		moveLimit: moveLimit,
	}
}

type lockedPolicy struct {
	mu     *sync.Mutex
	policy Policy
}

func (l lockedPolicy) GetActionAndValue(obs [][]float32, masks [][]bool) ([]int, []float32, []float32, []float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.policy.GetActionAndValue(obs, masks)
}

// Collect plays episodes until the buffer cannot hold another whole
// episode, then returns. Cancellation is honored between episodes;
// a canceled epoch keeps whatever complete episodes it already
// ingested.
func (r *Runner) Collect(ctx context.Context) (CollectStats, error) {
	var stats CollectStats

	// Episodes held back by the previous epoch go in first.
	pending := r.carried
	r.carried = nil
	for i, ep := range pending {
		ok, err := r.ingest(ep, &stats)
		if err != nil {
			return stats, err
		}
		if !ok {
			for _, rest := range pending[i+1:] {
				r.carried = append(r.carried, rest)
				stats.Carried++
			}
			return stats, nil
		}
	}

	if r.workers <= 1 {
		err := r.collectSequential(ctx, &stats)
		return stats, err
	}
	err := r.collectParallel(ctx, &stats)
	return stats, err
}

func (r *Runner) collectSequential(ctx context.Context, stats *CollectStats) error {
	for len(r.carried) == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.buf.Len() >= r.buf.Cap() {
			return nil
		}
		ep, err := PlayEpisode(r.policy, r.moveLimit)
		if err != nil {
			return err
		}
		if _, err := r.ingest(ep, stats); err != nil {
			return err
		}
	}
	return nil
}

// collectParallel runs a fixed set of workers that consume per-episode
// jobs and send completed episodes back on a results channel; the
// single ingestion goroutine is this one, so buffer writes stay
// single-threaded.
func (r *Runner) collectParallel(ctx context.Context, stats *CollectStats) error {
	jobs := make(chan struct{}, r.workers)
	results := make(chan *Episode, r.workers)
	errCh := make(chan error, r.workers)
	policy := lockedPolicy{mu: &r.mu, policy: r.policy}

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				ep, err := PlayEpisode(policy, r.moveLimit)
				if err != nil {
					errCh <- err
					return
				}
				results <- ep
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(results)
		close(done)
	}()

	// Keep every worker busy; each ingested result reissues one job.
	for i := 0; i < r.workers; i++ {
		jobs <- struct{}{}
	}

	var firstErr error
loop:
	for {
		select {
		case <-ctx.Done():
			firstErr = ctx.Err()
			break loop
		case err := <-errCh:
			firstErr = err
			break loop
		case ep := <-results:
			ok, err := r.ingest(ep, stats)
			if err != nil {
				firstErr = err
				break loop
			}
			if !ok {
				break loop
			}
			jobs <- struct{}{}
		}
	}
	close(jobs)

	// Drain in-flight episodes: ingest what still fits, carry the
	// rest. Nothing is dropped.
	for ep := range results {
		if firstErr != nil {
			r.carried = append(r.carried, ep)
			stats.Carried++
			continue
		}
		if _, err := r.ingest(ep, stats); err != nil {
			firstErr = err
		}
	}
	<-done

	// A worker that failed after the ingestion loop broke never got its
	// error received above; it is still sitting in the buffered channel.
	if firstErr == nil {
		select {
		case err := <-errCh:
			firstErr = err
		default:
		}
	}
	return firstErr
}

// ingest adds a whole episode to the buffer. It reports false when the
// episode did not fit; the episode is then carried to the next epoch.
// A callback error aborts the epoch.
func (r *Runner) ingest(ep *Episode, stats *CollectStats) (bool, error) {
	n := len(ep.Transitions)
	if n == 0 {
		return true, nil
	}
	if r.buf.Cap()-r.buf.Len() < n {
		r.carried = append(r.carried, ep)
		stats.Carried++
		r.logger.Printf("buffer full: carrying episode %s (%d transitions) to next epoch", ep.ID, n)
		return false, nil
	}
	for i, tr := range ep.Transitions {
		if err := r.buf.Add(tr); err != nil {
			// Capacity was checked above; reaching this is a bug.
			panic(fmt.Sprintf("ingest episode %s transition %d/%d: %v", ep.ID, i, n, err))
		}
	}
	stats.Episodes++
	stats.Transitions += n
	stats.TotalPlies += ep.Length()
	switch {
	case ep.Winner == nil:
		stats.Draws++
	case *ep.Winner == shogi.Black:
		stats.BlackWins++
	default:
		stats.WhiteWins++
	}
	if r.onEpisode != nil {
		if err := r.onEpisode(ep); err != nil {
			return true, err
		}
	}
	return true, nil
}
