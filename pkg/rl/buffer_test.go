package rl

import (
	"errors"
	"math"
	"testing"
)

func addN(t *testing.T, b *Buffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := b.Add(Transition{Action: i, Reward: float32(i)}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
}

// TestBufferFullSignal verifies the N+1-th add fails explicitly and
// the first N transitions stay intact.
func TestBufferFullSignal(t *testing.T) {
	const n = 8
	b, err := NewBuffer(n)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	addN(t, b, n)
	if err := b.Add(Transition{}); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("overflow add: got %v, want ErrBufferFull", err)
	}
	if b.Len() != n {
		t.Fatalf("len %d after rejected add, want %d", b.Len(), n)
	}
	if err := b.ComputeAdvantages(0, 0.99, 0.95); err != nil {
		t.Fatalf("compute: %v", err)
	}
	batch, err := b.Batch()
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	for i := 0; i < n; i++ {
		if batch.Actions[i] != i {
			t.Fatalf("slot %d holds action %d; rejected add corrupted storage", i, batch.Actions[i])
		}
	}
}

// TestGAEReference checks the advantage recursion against
// hand-computed values for a short trajectory ending in a terminal
// transition.
func TestGAEReference(t *testing.T) {
	b, err := NewBuffer(4)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	rewards := []float32{1, 0, 1}
	values := []float32{0.5, 0.6, 0.7}
	dones := []bool{false, false, true}
	for i := range rewards {
		if err := b.Add(Transition{Reward: rewards[i], Value: values[i], Done: dones[i]}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	// The trailing Done must zero the bootstrap: a huge nextValue may
	// not leak into any advantage.
	if err := b.ComputeAdvantages(100, 0.99, 0.95); err != nil {
		t.Fatalf("compute: %v", err)
	}
	batch, err := b.Batch()
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	// delta_2 = 1 - 0.7                  = 0.3
	// delta_1 = 0 + 0.99*0.7 - 0.6       = 0.093
	// delta_0 = 1 + 0.99*0.6 - 0.5       = 1.094
	// adv_2 = 0.3
	// adv_1 = 0.093 + 0.9405*0.3         = 0.37515
	// adv_0 = 1.094 + 0.9405*0.37515     = 1.446828575
	wantAdv := []float64{1.446828575, 0.37515, 0.3}
	for i, want := range wantAdv {
		got := float64(batch.Advantages[i])
		if math.Abs(got-want) > 1e-5 {
			t.Fatalf("advantage[%d] = %v, want %v", i, got, want)
		}
		ret := float64(batch.Returns[i])
		if math.Abs(ret-(want+float64(values[i]))) > 1e-5 {
			t.Fatalf("return[%d] = %v, want %v", i, ret, want+float64(values[i]))
		}
	}
}

// TestGAEEpisodeBoundary verifies a mid-buffer Done stops advantage
// flow from the following episode.
func TestGAEEpisodeBoundary(t *testing.T) {
	b, err := NewBuffer(4)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	// Two one-step episodes: the second has a large reward that must
	// not bleed into the first episode's advantage.
	steps := []Transition{
		{Reward: 0, Value: 0, Done: true},
		{Reward: 10, Value: 0, Done: true},
	}
	for i, tr := range steps {
		if err := b.Add(tr); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if err := b.ComputeAdvantages(0, 0.99, 0.95); err != nil {
		t.Fatalf("compute: %v", err)
	}
	batch, err := b.Batch()
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.Advantages[0] != 0 {
		t.Fatalf("advantage leaked across episode boundary: %v", batch.Advantages[0])
	}
	if batch.Advantages[1] != 10 {
		t.Fatalf("terminal advantage = %v, want 10", batch.Advantages[1])
	}
}

// TestBatchPhaseDiscipline verifies the empty and not-ready states are
// distinguishable errors, and that adding after a compute invalidates
// the previous advantages.
func TestBatchPhaseDiscipline(t *testing.T) {
	b, err := NewBuffer(4)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	if _, err := b.Batch(); !errors.Is(err, ErrBufferEmpty) {
		t.Fatalf("empty batch: got %v, want ErrBufferEmpty", err)
	}
	if err := b.ComputeAdvantages(0, 0.99, 0.95); !errors.Is(err, ErrBufferEmpty) {
		t.Fatalf("empty compute: got %v, want ErrBufferEmpty", err)
	}
	addN(t, b, 2)
	if _, err := b.Batch(); !errors.Is(err, ErrBufferNotReady) {
		t.Fatalf("pre-compute batch: got %v, want ErrBufferNotReady", err)
	}
	if err := b.ComputeAdvantages(0, 0.99, 0.95); err != nil {
		t.Fatalf("compute: %v", err)
	}
	if _, err := b.Batch(); err != nil {
		t.Fatalf("batch: %v", err)
	}
	addN(t, b, 1)
	if _, err := b.Batch(); !errors.Is(err, ErrBufferNotReady) {
		t.Fatalf("batch after stale compute: got %v, want ErrBufferNotReady", err)
	}
}

// TestClear verifies the cursor resets and the buffer is reusable.
func TestClear(t *testing.T) {
	b, err := NewBuffer(3)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	addN(t, b, 3)
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("len %d after clear", b.Len())
	}
	if _, err := b.Batch(); !errors.Is(err, ErrBufferEmpty) {
		t.Fatalf("batch after clear: got %v, want ErrBufferEmpty", err)
	}
	addN(t, b, 3)
	if b.Len() != 3 {
		t.Fatalf("len %d after refill, want 3", b.Len())
	}
}

// TestNewBufferValidation verifies capacity is checked eagerly.
func TestNewBufferValidation(t *testing.T) {
	_, err := NewBuffer(0)
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}
