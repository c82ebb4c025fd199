package selfplay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"sente/pkg/nn"
	"sente/pkg/rl"
)

// Learner is the trainable side of the agent, implemented by nn.Agent.
type Learner interface {
	Policy
	Update(batch *rl.RolloutBatch) (nn.UpdateStats, error)
	Save() error
	Steps() int
}

// Trainer runs the collect/update loop: fill the buffer with self-play
// episodes, compute advantages, run the PPO update, clear, repeat.
// Collection and update phases never overlap, so buffer reads and
// writes stay temporally disjoint.
type Trainer struct {
	cfg    Config
	agent  Learner
	buf    *rl.Buffer
	runner *Runner
	logger *log.Logger

	epoch    int
	updating atomic.Bool
}

// NewTrainer wires a trainer from a validated configuration.
func NewTrainer(cfg Config, agent Learner, logger *log.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	buf, err := rl.NewBuffer(cfg.BufferSize)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		cfg:    cfg,
		agent:  agent,
		buf:    buf,
		runner: NewRunner(agent, buf, cfg.Workers, cfg.MoveLimit, logger),
		logger: logger,
	}, nil
}

// Updating reports whether a PPO update is currently in progress. The
// flag is cleared on every exit path of the update, success or not.
func (t *Trainer) Updating() bool { return t.updating.Load() }

// Epoch returns the number of completed epochs.
func (t *Trainer) Epoch() int { return t.epoch }

// Run executes the configured number of epochs. Cancellation is
// honored at epoch boundaries and between episodes during collection;
// a canceled run checkpoints before returning.
func (t *Trainer) Run(ctx context.Context) error {
	// The record writer runs in its own goroutine; writerDone is closed
	// when it exits so a writer failure aborts the run instead of
	// leaving episode ingestion blocked on a full channel.
	var records chan GameRecord
	var writerDone chan struct{}
	var writeErr error
	if t.cfg.RecordPath != "" {
		records = make(chan GameRecord, 64)
		writerDone = make(chan struct{})
		go func() {
			writeErr = WriteRecords(t.cfg.RecordPath, records, 4)
			close(writerDone)
		}()
	}
	if records != nil || t.cfg.KIFDir != "" {
		t.runner.OnEpisode(func(ep *Episode) error {
			if records != nil {
				select {
				case records <- RecordFromEpisode(ep, t.epoch):
				case <-writerDone:
					if writeErr != nil {
						return fmt.Errorf("record writer: %w", writeErr)
					}
					return errors.New("record writer stopped early")
				}
			}
			if t.cfg.KIFDir != "" {
				if _, err := SaveKIF(t.cfg.KIFDir, ep); err != nil {
					t.logger.Printf("save kif for %s: %v", ep.ID, err)
				}
			}
			return nil
		})
	}

	runErr := t.run(ctx)

	if records != nil {
		close(records)
		<-writerDone
		if writeErr != nil && runErr == nil {
			runErr = writeErr
		}
	}
	if err := t.agent.Save(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (t *Trainer) run(ctx context.Context) error {
	for ; t.epoch < t.cfg.Epochs; t.epoch++ {
		if err := ctx.Err(); err != nil {
			t.logger.Printf("stopping at epoch %d: %v", t.epoch, err)
			return nil
		}
		stats, err := t.runner.Collect(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			t.logger.Printf("collection canceled at epoch %d (%d episodes kept)", t.epoch, stats.Episodes)
			return nil
		}
		if err != nil {
			return err
		}
		if t.buf.Len() == 0 {
			t.logger.Printf("epoch %d collected no transitions", t.epoch)
			continue
		}

		// Episodes are ingested whole, so the last transition is
		// terminal and the bootstrap value past the buffer is zero.
		if err := t.buf.ComputeAdvantages(0, float32(t.cfg.Gamma), float32(t.cfg.Lambda)); err != nil {
			return err
		}
		batch, err := t.buf.Batch()
		if err != nil {
			return err
		}

		update, err := t.runUpdate(batch)
		if err != nil {
			return err
		}
		t.buf.Clear()

		t.logger.Printf("epoch %d: %d episodes %d transitions (B/W/D %d/%d/%d, carried %d), loss %.4f, lr %.2e, step %d",
			t.epoch, stats.Episodes, stats.Transitions,
			stats.BlackWins, stats.WhiteWins, stats.Draws, stats.Carried,
			update.MeanLoss, update.LearningRate, t.agent.Steps())

		if t.cfg.CheckpointEvery > 0 && (t.epoch+1)%t.cfg.CheckpointEvery == 0 {
			if err := t.agent.Save(); err != nil {
				return err
			}
		}
	}
	return nil
}

// runUpdate wraps the PPO update so the in-progress flag is cleared on
// every exit path.
func (t *Trainer) runUpdate(batch *rl.RolloutBatch) (nn.UpdateStats, error) {
	t.updating.Store(true)
	defer t.updating.Store(false)
	return t.agent.Update(batch)
}
