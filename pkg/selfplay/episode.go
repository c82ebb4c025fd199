// Package selfplay runs self-play episodes against the current policy
// and feeds the collected experience into training.
package selfplay

import (
	"fmt"

	"github.com/google/uuid"

	"sente/pkg/encode"
	"sente/pkg/rl"
	"sente/pkg/shogi"
)

// Policy is the decision-making side of the agent. Implemented by
// nn.Agent; tests substitute cheap stand-ins.
type Policy interface {
	GetActionAndValue(obs [][]float32, masks [][]bool) (actions []int, logProbs, values, entropy []float32, err error)
}

// Episode is one completed self-play game with its experience.
type Episode struct {
	ID          string
	Transitions []rl.Transition
	Moves       []shogi.Move
	Winner      *shogi.Color
	Reason      shogi.TerminationReason
	FinalSFEN   string
}

// Length returns the number of plies played.
func (e *Episode) Length() int { return len(e.Moves) }

// PlayEpisode plays one full game from the standard start, sampling
// every move from policy. Observations are encoded from the mover's
// perspective, so transitions alternate sides; each side's final
// transition carries its terminal reward (+1 win, -1 loss, 0 draw)
// and only the very last transition is marked Done.
func PlayEpisode(policy Policy, moveLimit int) (*Episode, error) {
	p, err := shogi.InitialPosition()
	if err != nil {
		return nil, err
	}
	if moveLimit > 0 {
		p.SetMoveLimit(moveLimit)
	}

	ep := &Episode{ID: uuid.NewString()}
	movers := make([]shogi.Color, 0, 256)

	for !p.GameOver() {
		mover := p.Turn()
		obs := encode.Observation(p)
		mask, legal, err := encode.LegalMask(p)
		if err != nil {
			return nil, fmt.Errorf("episode %s ply %d: %w", ep.ID, p.MoveCount(), err)
		}
		if len(legal) == 0 {
			return nil, fmt.Errorf("episode %s ply %d: no legal moves in a live game", ep.ID, p.MoveCount())
		}
		actions, logProbs, values, _, err := policy.GetActionAndValue(
			[][]float32{obs}, [][]bool{mask})
		if err != nil {
			return nil, fmt.Errorf("episode %s ply %d: %w", ep.ID, p.MoveCount(), err)
		}
		move, err := encode.IndexToMove(actions[0], mover)
		if err != nil {
			return nil, fmt.Errorf("episode %s ply %d: %w", ep.ID, p.MoveCount(), err)
		}
		if err := p.Apply(move); err != nil {
			return nil, fmt.Errorf("episode %s ply %d: sampled move %s: %w", ep.ID, p.MoveCount(), move, err)
		}
		ep.Transitions = append(ep.Transitions, rl.Transition{
			Observation: obs,
			Mask:        mask,
			Action:      actions[0],
			Value:       values[0],
			LogProb:     logProbs[0],
		})
		ep.Moves = append(ep.Moves, move)
		movers = append(movers, mover)
	}

	ep.Winner = p.Winner()
	ep.Reason = p.Reason()
	ep.FinalSFEN = p.SFEN()
	assignTerminalRewards(ep, movers)
	return ep, nil
}

// assignTerminalRewards writes the game outcome into each side's last
// transition and marks the final transition Done.
func assignTerminalRewards(ep *Episode, movers []shogi.Color) {
	n := len(ep.Transitions)
	if n == 0 {
		return
	}
	ep.Transitions[n-1].Done = true
	if ep.Winner == nil {
		return
	}
	rewarded := [2]bool{}
	for i := n - 1; i >= 0 && (!rewarded[shogi.Black] || !rewarded[shogi.White]); i-- {
		mover := movers[i]
		if rewarded[mover] {
			continue
		}
		rewarded[mover] = true
		if mover == *ep.Winner {
			ep.Transitions[i].Reward = 1
		} else {
			ep.Transitions[i].Reward = -1
		}
	}
}
