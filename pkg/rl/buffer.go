// Package rl holds the training-side data structures: the experience
// buffer with generalized advantage estimation and the learning-rate
// schedules.
package rl

// Transition is one environment step. The buffer owns stored
// transitions exclusively until they are batched and cleared.
type Transition struct {
	Observation []float32
	Mask        []bool
	Action      int
	Reward      float32
	Value       float32
	LogProb     float32
	Done        bool
}

// RolloutBatch is a read-only view over one epoch of buffer contents
// with advantages and returns attached. It aliases buffer storage and
// is consumed exactly once, before Clear.
type RolloutBatch struct {
	Observations [][]float32
	Masks        [][]bool
	Actions      []int
	OldLogProbs  []float32
	OldValues    []float32
	Advantages   []float32
	Returns      []float32
}

// Len returns the number of samples in the batch.
func (b *RolloutBatch) Len() int { return len(b.Actions) }

// Buffer accumulates one rollout epoch of transitions in pre-allocated
// storage. Contents are treated as a single contiguous trajectory:
// when episodes from several sources are interleaved, every episode
// boundary must carry Done=true or the advantage estimates are wrong.
// Writer and reader phases are temporally disjoint (collect, compute,
// batch, clear); the buffer is not safe for concurrent use.
type Buffer struct {
	capacity int
	size     int
	ready    bool

	observations [][]float32
	masks        [][]bool
	actions      []int
	rewards      []float32
	values       []float32
	logProbs     []float32
	dones        []bool
	advantages   []float32
	returns      []float32
}

// NewBuffer creates a buffer holding at most capacity transitions.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, configErrf("capacity", "must be positive, got %d", capacity)
	}
	return &Buffer{
		capacity:     capacity,
		observations: make([][]float32, capacity),
		masks:        make([][]bool, capacity),
		actions:      make([]int, capacity),
		rewards:      make([]float32, capacity),
		values:       make([]float32, capacity),
		logProbs:     make([]float32, capacity),
		dones:        make([]bool, capacity),
		advantages:   make([]float32, capacity),
		returns:      make([]float32, capacity),
	}, nil
}

// Len returns the number of stored transitions.
func (b *Buffer) Len() int { return b.size }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Add stores one transition. A full buffer returns ErrBufferFull and
// leaves the stored contents untouched; terminal transitions are never
// dropped silently.
func (b *Buffer) Add(tr Transition) error {
	if b.size >= b.capacity {
		return ErrBufferFull
	}
	i := b.size
	b.observations[i] = tr.Observation
	b.masks[i] = tr.Mask
	b.actions[i] = tr.Action
	b.rewards[i] = tr.Reward
	b.values[i] = tr.Value
	b.logProbs[i] = tr.LogProb
	b.dones[i] = tr.Done
	b.size++
	b.ready = false
	return nil
}

// ComputeAdvantages runs generalized advantage estimation backward
// over the stored trajectory. nextValue bootstraps past the last slot
// and is ignored when the last transition is terminal. A Done
// transition contributes no bootstrap beyond itself.
func (b *Buffer) ComputeAdvantages(nextValue, gamma, lambda float32) error {
	if b.size == 0 {
		return ErrBufferEmpty
	}
	if gamma < 0 || gamma > 1 {
		return configErrf("gamma", "must be in [0, 1], got %v", gamma)
	}
	if lambda < 0 || lambda > 1 {
		return configErrf("lambda", "must be in [0, 1], got %v", lambda)
	}
	var lastAdv float32
	for t := b.size - 1; t >= 0; t-- {
		var notDone float32
		if !b.dones[t] {
			notDone = 1
		}
		next := nextValue
		if t < b.size-1 {
			next = b.values[t+1]
		}
		delta := b.rewards[t] + gamma*next*notDone - b.values[t]
		lastAdv = delta + gamma*lambda*notDone*lastAdv
		b.advantages[t] = lastAdv
		b.returns[t] = lastAdv + b.values[t]
	}
	b.ready = true
	return nil
}

// Batch returns the stored transitions with their computed advantages
// and returns. An empty buffer yields ErrBufferEmpty; a buffer whose
// advantages are stale yields ErrBufferNotReady. The returned slices
// alias buffer storage and are invalidated by Clear.
func (b *Buffer) Batch() (*RolloutBatch, error) {
	if b.size == 0 {
		return nil, ErrBufferEmpty
	}
	if !b.ready {
		return nil, ErrBufferNotReady
	}
	return &RolloutBatch{
		Observations: b.observations[:b.size],
		Masks:        b.masks[:b.size],
		Actions:      b.actions[:b.size],
		OldLogProbs:  b.logProbs[:b.size],
		OldValues:    b.values[:b.size],
		Advantages:   b.advantages[:b.size],
		Returns:      b.returns[:b.size],
	}, nil
}

// Clear resets the write cursor. Old slots become unreachable; memory
// is reused by the next epoch.
func (b *Buffer) Clear() {
	b.size = 0
	b.ready = false
}
