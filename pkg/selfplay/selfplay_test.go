package selfplay

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"sente/pkg/nn"
	"sente/pkg/rl"
	"sente/pkg/shogi"
)

// randomPolicy samples uniformly over the legal mask. It keeps episode
// tests independent of the network stack.
type randomPolicy struct {
	rng *rand.Rand
}

func (p *randomPolicy) GetActionAndValue(obs [][]float32, masks [][]bool) ([]int, []float32, []float32, []float32, error) {
	actions := make([]int, len(obs))
	logProbs := make([]float32, len(obs))
	values := make([]float32, len(obs))
	entropy := make([]float32, len(obs))
	for i, mask := range masks {
		var legal []int
		for idx, ok := range mask {
			if ok {
				legal = append(legal, idx)
			}
		}
		actions[i] = legal[p.rng.Intn(len(legal))]
		logProbs[i] = -1
	}
	return actions, logProbs, values, entropy, nil
}

// stubLearner counts update and save calls on top of random play.
type stubLearner struct {
	randomPolicy
	updates int
	saves   int
	batches []int
}

func (l *stubLearner) Update(batch *rl.RolloutBatch) (nn.UpdateStats, error) {
	l.updates++
	l.batches = append(l.batches, batch.Len())
	return nn.UpdateStats{Steps: 1}, nil
}

func (l *stubLearner) Save() error {
	l.saves++
	return nil
}

func (l *stubLearner) Steps() int { return l.updates }

// TestPlayEpisode verifies a full episode terminates, records one
// transition per move, marks only the final transition Done, and
// places terminal rewards on each side's last transition.
func TestPlayEpisode(t *testing.T) {
	policy := &randomPolicy{rng: rand.New(rand.NewSource(7))}
	ep, err := PlayEpisode(policy, 80)
	if err != nil {
		t.Fatalf("play episode: %v", err)
	}
	if ep.ID == "" {
		t.Fatal("episode has no id")
	}
	n := len(ep.Transitions)
	if n == 0 || n != len(ep.Moves) {
		t.Fatalf("%d transitions for %d moves", n, len(ep.Moves))
	}
	for i, tr := range ep.Transitions {
		if tr.Done != (i == n-1) {
			t.Fatalf("transition %d/%d has Done=%v", i, n, tr.Done)
		}
		if !tr.Mask[tr.Action] {
			t.Fatalf("transition %d stored an illegal action", i)
		}
	}
	var pos, neg, zero int
	for _, tr := range ep.Transitions {
		switch {
		case tr.Reward > 0:
			pos++
		case tr.Reward < 0:
			neg++
		default:
			zero++
		}
	}
	if ep.Winner == nil {
		if pos != 0 || neg != 0 {
			t.Fatalf("draw episode has rewards +%d/-%d", pos, neg)
		}
	} else {
		if pos != 1 || neg != 1 {
			t.Fatalf("decisive episode has rewards +%d/-%d, want one of each", pos, neg)
		}
	}

	// The recorded moves must replay to the recorded final position.
	p, err := shogi.InitialPosition()
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	p.SetMoveLimit(80)
	for i, m := range ep.Moves {
		if err := p.Apply(m); err != nil {
			t.Fatalf("replay move %d (%s): %v", i+1, m, err)
		}
	}
	if p.SFEN() != ep.FinalSFEN {
		t.Fatalf("replay ends at %s, episode says %s", p.SFEN(), ep.FinalSFEN)
	}
	if p.Reason() != ep.Reason {
		t.Fatalf("replay reason %s, episode says %s", p.Reason(), ep.Reason)
	}
}

// TestRunnerWholeEpisodes verifies episodes are ingested whole: an
// episode that does not fit is carried to the next epoch instead of
// being split or dropped.
func TestRunnerWholeEpisodes(t *testing.T) {
	buf, err := rl.NewBuffer(60)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	policy := &randomPolicy{rng: rand.New(rand.NewSource(11))}
	runner := NewRunner(policy, buf, 1, 40, log.New(os.Stderr, "", 0))

	stats, err := runner.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if stats.Episodes == 0 {
		t.Fatal("no episodes ingested")
	}
	if stats.Carried == 0 && buf.Len() < buf.Cap() {
		t.Fatalf("collection stopped early: %d/%d filled, nothing carried", buf.Len(), buf.Cap())
	}
	if stats.Transitions != buf.Len() {
		t.Fatalf("stats say %d transitions, buffer holds %d", stats.Transitions, buf.Len())
	}

	// The carried episode must lead the next epoch.
	buf.Clear()
	carried := stats.Carried
	stats, err = runner.Collect(context.Background())
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if carried > 0 && stats.Episodes == 0 {
		t.Fatal("carried episode was not ingested on the next epoch")
	}
}

// TestRunnerParallel verifies the worker pool fills the buffer with
// whole episodes.
func TestRunnerParallel(t *testing.T) {
	buf, err := rl.NewBuffer(120)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	policy := &randomPolicy{rng: rand.New(rand.NewSource(13))}
	runner := NewRunner(policy, buf, 3, 30, log.New(os.Stderr, "", 0))
	stats, err := runner.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if stats.Episodes == 0 {
		t.Fatal("no episodes ingested")
	}
	if stats.Transitions != buf.Len() {
		t.Fatalf("stats say %d transitions, buffer holds %d", stats.Transitions, buf.Len())
	}
}

// TestTrainerRun verifies the collect/update/clear loop and record
// output over a short run.
func TestTrainerRun(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Epochs = 2
	cfg.BufferSize = 80
	cfg.MoveLimit = 30
	cfg.CheckpointEvery = 1
	cfg.RecordPath = filepath.Join(dir, "games.parquet")

	learner := &stubLearner{randomPolicy: randomPolicy{rng: rand.New(rand.NewSource(19))}}
	trainer, err := NewTrainer(cfg, learner, log.New(os.Stderr, "test ", 0))
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if learner.updates != cfg.Epochs {
		t.Fatalf("%d updates for %d epochs", learner.updates, cfg.Epochs)
	}
	// CheckpointEvery=1 saves each epoch, plus the final save.
	if learner.saves != cfg.Epochs+1 {
		t.Fatalf("%d saves, want %d", learner.saves, cfg.Epochs+1)
	}
	if trainer.Updating() {
		t.Fatal("updating flag stuck after run")
	}
	for i, n := range learner.batches {
		if n == 0 {
			t.Fatalf("epoch %d updated on an empty batch", i)
		}
	}

	records, err := ReadRecords(cfg.RecordPath, 1)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("no game records written")
	}
	for _, rec := range records {
		if _, err := ReplayRecord(rec); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
}

// TestTrainerRecordWriterFailure verifies a failed record writer aborts
// the run with its error instead of leaving episode ingestion blocked
// on the records channel.
func TestTrainerRecordWriterFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Epochs = 60
	cfg.BufferSize = 80
	cfg.MoveLimit = 30
	// The parent is a regular file, so the writer fails at startup.
	cfg.RecordPath = filepath.Join(blocker, "games.parquet")

	learner := &stubLearner{randomPolicy: randomPolicy{rng: rand.New(rand.NewSource(23))}}
	trainer, err := NewTrainer(cfg, learner, log.New(os.Stderr, "test ", 0))
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if err := trainer.Run(context.Background()); err == nil {
		t.Fatal("run succeeded with a dead record writer")
	}
	if trainer.Updating() {
		t.Fatal("updating flag stuck after aborted run")
	}
}

// TestTrainerKIFOnly verifies KIF export works without a record path.
func TestTrainerKIFOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs = 1
	cfg.BufferSize = 80
	cfg.MoveLimit = 30
	cfg.KIFDir = t.TempDir()

	learner := &stubLearner{randomPolicy: randomPolicy{rng: rand.New(rand.NewSource(31))}}
	trainer, err := NewTrainer(cfg, learner, log.New(os.Stderr, "test ", 0))
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	kifs, err := filepath.Glob(filepath.Join(cfg.KIFDir, "*.kif"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(kifs) == 0 {
		t.Fatal("no KIF files exported")
	}
}

// TestRunnerCallbackError verifies an episode-callback failure aborts
// the collection epoch.
func TestRunnerCallbackError(t *testing.T) {
	buf, err := rl.NewBuffer(200)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	policy := &randomPolicy{rng: rand.New(rand.NewSource(37))}
	runner := NewRunner(policy, buf, 1, 30, log.New(os.Stderr, "", 0))
	sinkErr := errors.New("record sink failed")
	runner.OnEpisode(func(*Episode) error { return sinkErr })
	if _, err := runner.Collect(context.Background()); !errors.Is(err, sinkErr) {
		t.Fatalf("collect returned %v, want the callback error", err)
	}
}

// faultPolicy fails every call once its fuse channel is closed.
type faultPolicy struct {
	randomPolicy
	fuse   chan struct{}
	faults atomic.Int32
}

func (p *faultPolicy) GetActionAndValue(obs [][]float32, masks [][]bool) ([]int, []float32, []float32, []float32, error) {
	select {
	case <-p.fuse:
		p.faults.Add(1)
		return nil, nil, nil, nil, errors.New("policy backend gone")
	default:
	}
	return p.randomPolicy.GetActionAndValue(obs, masks)
}

// fuseWriter closes the fuse the first time the log mentions a carried
// episode.
type fuseWriter struct {
	fuse chan struct{}
	once sync.Once
}

func (w *fuseWriter) Write(b []byte) (int, error) {
	if strings.Contains(string(b), "buffer full") {
		w.once.Do(func() { close(w.fuse) })
	}
	return len(b), nil
}

// TestRunnerWorkerErrorAfterCarry verifies a worker failure that lands
// after a carried episode has already stopped the collection loop is
// still reported, not swallowed.
func TestRunnerWorkerErrorAfterCarry(t *testing.T) {
	// Smaller than any full episode, so the first completed episode is
	// carried and collection stops while a worker is still running.
	buf, err := rl.NewBuffer(25)
	if err != nil {
		t.Fatalf("buffer: %v", err)
	}
	fuse := make(chan struct{})
	policy := &faultPolicy{
		randomPolicy: randomPolicy{rng: rand.New(rand.NewSource(41))},
		fuse:         fuse,
	}
	runner := NewRunner(policy, buf, 2, 30, log.New(&fuseWriter{fuse: fuse}, "", 0))

	stats, err := runner.Collect(context.Background())
	if policy.faults.Load() > 0 && err == nil {
		t.Fatal("worker failure after collection stopped was swallowed")
	}
	if stats.Transitions != buf.Len() {
		t.Fatalf("stats say %d transitions, buffer holds %d", stats.Transitions, buf.Len())
	}
}

// TestTrainerCancellation verifies a canceled context stops the run
// cleanly at a boundary.
func TestTrainerCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs = 1000
	cfg.BufferSize = 60
	cfg.MoveLimit = 30

	learner := &stubLearner{randomPolicy: randomPolicy{rng: rand.New(rand.NewSource(29))}}
	trainer, err := NewTrainer(cfg, learner, log.New(os.Stderr, "test ", 0))
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := trainer.Run(ctx); err != nil {
		t.Fatalf("canceled run should stop cleanly, got %v", err)
	}
	if learner.updates != 0 {
		t.Fatalf("%d updates after immediate cancel", learner.updates)
	}
}

// TestLoadConfig verifies defaults, overrides, and validation.
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"epochs": 5, "buffer_size": 128, "network": {"channels": 8}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Epochs != 5 || cfg.BufferSize != 128 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Network.Channels != 8 {
		t.Fatalf("nested override not applied: %d", cfg.Network.Channels)
	}
	if cfg.Gamma != 0.99 {
		t.Fatalf("default gamma lost: %v", cfg.Gamma)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"gamma": 2.0}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(bad); err == nil {
		t.Fatal("invalid gamma accepted")
	}
}
