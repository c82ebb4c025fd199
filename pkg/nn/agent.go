package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"

	"sente/pkg/encode"
	"sente/pkg/rl"
)

// stepParam is the context parameter carrying the optimizer-update
// counter, so it rides along in checkpoints.
const stepParam = "ppo_update_step"

// Config holds the network architecture and PPO hyperparameters.
type Config struct {
	Channels    int `json:"channels"`
	Blocks      int `json:"blocks"`
	ValueHidden int `json:"value_hidden"`

	ClipEpsilon float64 `json:"clip_epsilon"`
	ValueCoef   float64 `json:"value_coef"`
	EntropyCoef float64 `json:"entropy_coef"`
	MaxGradNorm float64 `json:"max_grad_norm"`

	Epochs              int  `json:"epochs"`
	MinibatchSize       int  `json:"minibatch_size"`
	NormalizeAdvantages bool `json:"normalize_advantages"`

	Schedule rl.ScheduleConfig `json:"schedule"`

	CheckpointDir  string `json:"checkpoint_dir"`
	CheckpointKeep int    `json:"checkpoint_keep"`
	Seed           int64  `json:"seed"`
}

// DefaultConfig returns a small configuration suitable for smoke runs.
func DefaultConfig() Config {
	return Config{
		Channels:            64,
		Blocks:              4,
		ValueHidden:         128,
		ClipEpsilon:         0.2,
		ValueCoef:           0.5,
		EntropyCoef:         0.01,
		MaxGradNorm:         0.5,
		Epochs:              4,
		MinibatchSize:       256,
		NormalizeAdvantages: true,
		Schedule:            rl.ScheduleConfig{Type: "constant", Initial: 3e-4},
		CheckpointKeep:      3,
		Seed:                1,
	}
}

// Validate reports the first invalid hyperparameter. Everything is
// checked here so a bad value never surfaces from deep inside a
// training step.
func (c *Config) Validate() error {
	switch {
	case c.Channels <= 0:
		return &rl.ConfigurationError{Field: "channels", Reason: "must be positive"}
	case c.Blocks <= 0:
		return &rl.ConfigurationError{Field: "blocks", Reason: "must be positive"}
	case c.ValueHidden <= 0:
		return &rl.ConfigurationError{Field: "value_hidden", Reason: "must be positive"}
	case c.ClipEpsilon <= 0 || c.ClipEpsilon >= 1:
		return &rl.ConfigurationError{Field: "clip_epsilon", Reason: "must be in (0, 1)"}
	case c.ValueCoef < 0:
		return &rl.ConfigurationError{Field: "value_coef", Reason: "must be non-negative"}
	case c.EntropyCoef < 0:
		return &rl.ConfigurationError{Field: "entropy_coef", Reason: "must be non-negative"}
	case c.MaxGradNorm < 0:
		return &rl.ConfigurationError{Field: "max_grad_norm", Reason: "must be non-negative"}
	case c.Epochs <= 0:
		return &rl.ConfigurationError{Field: "epochs", Reason: "must be positive"}
	case c.MinibatchSize <= 0:
		return &rl.ConfigurationError{Field: "minibatch_size", Reason: "must be positive"}
	}
	return nil
}

// Agent is the policy/value network together with its PPO optimizer
// state. It is not safe for concurrent use; the training loop owns it.
type Agent struct {
	cfg      Config
	backend  backends.Backend
	ctx      *context.Context
	trainer  *train.Trainer
	infer    *context.Exec
	schedule rl.Schedule
	ckpt     *checkpoints.Handler
	rng      *rand.Rand
	step     int
}

// UpdateStats summarizes one Update call.
type UpdateStats struct {
	MeanLoss     float64
	Steps        int
	LearningRate float64
}

// NewAgent builds the network, optimizer, and (when a checkpoint
// directory is configured) restores the latest checkpoint. Schedule
// construction is validated through the given registry.
func NewAgent(backend backends.Backend, registry *rl.ScheduleRegistry, cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	schedule, err := registry.Build(cfg.Schedule)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:      cfg,
		backend:  backend,
		ctx:      context.New(),
		schedule: schedule,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
	a.ctx.SetParam(optimizers.ParamLearningRate, schedule.Rate(0))
	if cfg.MaxGradNorm > 0 {
		a.ctx.SetParam(optimizers.ParamClipStepByNorm, cfg.MaxGradNorm)
	}

	if cfg.CheckpointDir != "" {
		keep := cfg.CheckpointKeep
		if keep <= 0 {
			keep = 3
		}
		ckpt, err := checkpoints.Build(a.ctx).Dir(cfg.CheckpointDir).Keep(keep).Done()
		if err != nil {
			return nil, fmt.Errorf("load checkpoint from %s: %w", cfg.CheckpointDir, err)
		}
		a.ckpt = ckpt
		a.step = restoredStep(a.ctx)
	}

	a.trainer = train.NewTrainer(backend, a.ctx, a.trainModelGraph, a.ppoLossGraph,
		optimizers.Adam().Done(), nil, nil)
	a.infer = context.NewExec(backend, a.ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
		logProbs, values, entropy := a.policyValueGraph(ctx, inputs[0], inputs[1])
		return []*graph.Node{logProbs, values, entropy}
	})
	return a, nil
}

func restoredStep(ctx *context.Context) int {
	v, ok := ctx.GetParam(stepParam)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64: // params round-trip through JSON
		return int(n)
	}
	return 0
}

// Steps returns the number of optimizer updates applied so far,
// surviving checkpoint restore.
func (a *Agent) Steps() int { return a.step }

// Save writes a checkpoint of the network parameters, optimizer state,
// and update counter. It is a no-op when no checkpoint directory was
// configured.
func (a *Agent) Save() error {
	if a.ckpt == nil {
		return nil
	}
	a.ctx.SetParam(stepParam, a.step)
	if err := a.ckpt.Save(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// forward runs the network on a batch of observations and masks.
func (a *Agent) forward(obs [][]float32, masks [][]bool) (logProbs [][]float32, values, entropy []float32, err error) {
	if len(obs) == 0 || len(obs) != len(masks) {
		return nil, nil, nil, fmt.Errorf("batch of %d observations with %d masks", len(obs), len(masks))
	}
	obsT, err := packFloats(obs, encode.TensorLen)
	if err != nil {
		return nil, nil, nil, err
	}
	maskT, err := packBools(masks, encode.NumActions)
	if err != nil {
		return nil, nil, nil, err
	}
	var outs []*tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		outs = a.infer.Call(obsT, maskT)
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("network forward pass: %w", err)
	}
	logProbs = outs[0].Value().([][]float32)
	values = outs[1].Value().([]float32)
	entropy = outs[2].Value().([]float32)
	return logProbs, values, entropy, nil
}

// GetActionAndValue samples one action per observation from the masked
// policy, returning the action indices with their log-probabilities,
// value estimates, and policy entropies. A sample with an all-false
// mask draws from the uniform fallback; the other samples in the batch
// are unaffected.
func (a *Agent) GetActionAndValue(obs [][]float32, masks [][]bool) (actions []int, logProbs, values, entropy []float32, err error) {
	probs, values, entropy, err := a.forward(obs, masks)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	actions = make([]int, len(obs))
	logProbs = make([]float32, len(obs))
	for i, row := range probs {
		idx := sampleRow(row, a.rng.Float32())
		actions[i] = idx
		logProbs[i] = row[idx]
	}
	return actions, logProbs, values, entropy, nil
}

// sampleRow draws an index from a log-probability row by inverse CDF.
func sampleRow(logProbs []float32, r float32) int {
	var cum float32
	last := 0
	for i, lp := range logProbs {
		p := math32.Exp(lp)
		if p <= 0 {
			continue
		}
		cum += p
		last = i
		if r < cum {
			return i
		}
	}
	// Rounding can leave cum slightly below 1; fall back to the last
	// index with mass.
	return last
}

// EvaluateActions recomputes log-probabilities, values, and entropies
// for previously taken actions under the current parameters. The
// return order is always (logProbs, values, entropy).
func (a *Agent) EvaluateActions(obs [][]float32, actions []int, masks [][]bool) (logProbs, values, entropy []float32, err error) {
	if len(actions) != len(obs) {
		return nil, nil, nil, fmt.Errorf("batch of %d observations with %d actions", len(obs), len(actions))
	}
	full, values, entropy, err := a.forward(obs, masks)
	if err != nil {
		return nil, nil, nil, err
	}
	logProbs = make([]float32, len(actions))
	for i, action := range actions {
		if action < 0 || action >= encode.NumActions {
			return nil, nil, nil, fmt.Errorf("action index %d out of range", action)
		}
		logProbs[i] = full[i][action]
	}
	return logProbs, values, entropy, nil
}

// Update runs the configured number of PPO epochs over the batch in
// shuffled minibatches. The learning-rate schedule is stepped once per
// optimizer update.
func (a *Agent) Update(batch *rl.RolloutBatch) (UpdateStats, error) {
	n := batch.Len()
	if n == 0 {
		return UpdateStats{}, rl.ErrBufferEmpty
	}
	advantages := batch.Advantages
	if a.cfg.NormalizeAdvantages {
		advantages = normalized(advantages)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	var stats UpdateStats
	var lossSum float64
	for epoch := 0; epoch < a.cfg.Epochs; epoch++ {
		a.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		for start := 0; start < n; start += a.cfg.MinibatchSize {
			end := start + a.cfg.MinibatchSize
			if end > n {
				end = n
			}
			idx := order[start:end]
			loss, err := a.trainStep(batch, advantages, idx)
			if err != nil {
				return stats, err
			}
			lossSum += loss
			stats.Steps++
		}
	}
	if stats.Steps > 0 {
		stats.MeanLoss = lossSum / float64(stats.Steps)
	}
	stats.LearningRate = a.schedule.Rate(a.step)
	return stats, nil
}

func (a *Agent) trainStep(batch *rl.RolloutBatch, advantages []float32, idx []int) (float64, error) {
	obs := make([][]float32, len(idx))
	masks := make([][]bool, len(idx))
	actions := make([]int32, len(idx))
	oldLogProbs := make([]float32, len(idx))
	adv := make([]float32, len(idx))
	returns := make([]float32, len(idx))
	for i, j := range idx {
		obs[i] = batch.Observations[j]
		masks[i] = batch.Masks[j]
		actions[i] = int32(batch.Actions[j])
		oldLogProbs[i] = batch.OldLogProbs[j]
		adv[i] = advantages[j]
		returns[i] = batch.Returns[j]
	}
	obsT, err := packFloats(obs, encode.TensorLen)
	if err != nil {
		return 0, err
	}
	maskT, err := packBools(masks, encode.NumActions)
	if err != nil {
		return 0, err
	}
	inputs := []*tensors.Tensor{obsT, maskT}
	labels := []*tensors.Tensor{
		tensors.FromValue(actions),
		tensors.FromValue(oldLogProbs),
		tensors.FromValue(adv),
		tensors.FromValue(returns),
	}

	a.ctx.SetParam(optimizers.ParamLearningRate, a.schedule.Rate(a.step))
	var metrics []*tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		metrics = a.trainer.TrainStep(nil, inputs, labels)
	})
	if err != nil {
		return 0, fmt.Errorf("ppo train step: %w", err)
	}
	a.step++
	return float64(metrics[0].Value().(float32)), nil
}

// normalized returns a zero-mean unit-variance copy of advantages.
// The batch's own slice is left untouched because it aliases buffer
// storage.
func normalized(advantages []float32) []float32 {
	var mean float64
	for _, v := range advantages {
		mean += float64(v)
	}
	mean /= float64(len(advantages))
	var variance float64
	for _, v := range advantages {
		d := float64(v) - mean
		variance += d * d
	}
	std := math.Sqrt(variance/float64(len(advantages))) + 1e-8

	out := make([]float32, len(advantages))
	for i, v := range advantages {
		out[i] = float32((float64(v) - mean) / std)
	}
	return out
}

func packFloats(rows [][]float32, width int) (*tensors.Tensor, error) {
	flat := make([]float32, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), width)
		}
		flat = append(flat, row...)
	}
	return tensors.FromFlatDataAndDimensions(flat, len(rows), width), nil
}

func packBools(rows [][]bool, width int) (*tensors.Tensor, error) {
	flat := make([]bool, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), width)
		}
		flat = append(flat, row...)
	}
	return tensors.FromFlatDataAndDimensions(flat, len(rows), width), nil
}
