// Package nn wraps the policy/value network and its PPO update step.
package nn

import (
	"fmt"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gopjrt/dtypes"

	"sente/pkg/encode"
)

// towerGraph builds the shared convolutional trunk. obs is a flat
// (batch, TensorLen) tensor; the output is flattened per sample.
func (a *Agent) towerGraph(ctx *context.Context, obs *graph.Node) *graph.Node {
	batch := obs.Shape().Dimensions[0]
	x := graph.Reshape(obs, batch, encode.PlaneCount, encode.BoardSize, encode.BoardSize)
	// Channels-last for the convolution layers.
	x = graph.TransposeAllDims(x, 0, 2, 3, 1)
	for i := 0; i < a.cfg.Blocks; i++ {
		blockCtx := ctx.In(fmt.Sprintf("block_%02d", i))
		x = layers.Convolution(blockCtx, x).Filters(a.cfg.Channels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
	}
	return graph.Reshape(x, batch, -1)
}

// policyValueGraph is the full forward pass. It returns, per sample,
// the legal-masked log-probabilities over the action space, the scalar
// value in [-1, 1], and the policy entropy.
//
// Masking is applied to the logits before log-softmax, so the
// log-probabilities come from the numerically stable path rather than
// a softmax-then-log round trip. A sample whose mask has no legal
// action falls back to the uniform distribution; the fallback is
// selected per sample and never disturbs the rest of the batch.
func (a *Agent) policyValueGraph(ctx *context.Context, obs, mask *graph.Node) (logProbs, values, entropy *graph.Node) {
	trunk := a.towerGraph(ctx.In("tower"), obs)

	logits := layers.Dense(ctx.In("policy"), trunk, true, encode.NumActions)

	// (mask-1)*1e9 is 0 on legal entries and a large negative penalty
	// on illegal ones, keeping every log-probability finite.
	maskF := graph.ConvertDType(mask, dtypes.Float32)
	penalty := graph.MulScalar(graph.AddScalar(maskF, -1), 1e9)
	masked := graph.Add(logits, penalty)

	hasLegal := graph.GreaterThan(graph.ReduceMax(maskF, -1), graph.ScalarZero(obs.Graph(), dtypes.Float32))
	fallback := graph.BroadcastToShape(graph.ExpandAxes(hasLegal, -1), masked.Shape())
	masked = graph.Where(fallback, masked, graph.ZerosLike(masked))

	logProbs = graph.LogSoftmax(masked, -1)

	probs := graph.Exp(logProbs)
	plogp := graph.Mul(probs, logProbs)
	entropy = graph.Neg(graph.ReduceSum(plogp, -1))

	hidden := activations.Relu(layers.Dense(ctx.In("value_hidden"), trunk, true, a.cfg.ValueHidden))
	value := graph.Tanh(layers.Dense(ctx.In("value"), hidden, true, 1))
	values = graph.Reshape(value, obs.Shape().Dimensions[0])
	return logProbs, values, entropy
}

// trainModelGraph adapts policyValueGraph to the trainer contract:
// inputs are [observations, masks], predictions are
// [logProbs, values, entropy].
func (a *Agent) trainModelGraph(ctx *context.Context, _ any, inputs []*graph.Node) []*graph.Node {
	logProbs, values, entropy := a.policyValueGraph(ctx, inputs[0], inputs[1])
	return []*graph.Node{logProbs, values, entropy}
}

// ppoLossGraph computes the clipped-surrogate PPO loss. Labels are
// [actions, oldLogProbs, advantages, returns]; predictions come from
// trainModelGraph.
func (a *Agent) ppoLossGraph(labels, predictions []*graph.Node) *graph.Node {
	logProbs, values, entropy := predictions[0], predictions[1], predictions[2]
	actions, oldLogProbs, advantages, returns := labels[0], labels[1], labels[2], labels[3]

	oneHot := graph.OneHot(actions, encode.NumActions, dtypes.Float32)
	newLogProbs := graph.ReduceSum(graph.Mul(logProbs, oneHot), -1)

	ratio := graph.Exp(graph.Sub(newLogProbs, oldLogProbs))
	clipped := graph.ClipScalar(ratio, 1-a.cfg.ClipEpsilon, 1+a.cfg.ClipEpsilon)
	surrogate := graph.Min(graph.Mul(ratio, advantages), graph.Mul(clipped, advantages))
	policyLoss := graph.Neg(graph.ReduceAllMean(surrogate))

	valueLoss := graph.ReduceAllMean(graph.Square(graph.Sub(values, returns)))

	entropyBonus := graph.ReduceAllMean(entropy)

	loss := graph.Add(policyLoss, graph.MulScalar(valueLoss, a.cfg.ValueCoef))
	return graph.Sub(loss, graph.MulScalar(entropyBonus, a.cfg.EntropyCoef))
}
