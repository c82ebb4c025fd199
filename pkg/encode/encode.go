// Package encode maps game positions to the fixed-shape tensors and
// action indices consumed by the policy network.
package encode

import (
	"fmt"

	"github.com/chewxy/math32"

	"sente/pkg/shogi"
)

const (
	BoardSize  = 9
	NumSquares = BoardSize * BoardSize

	// Plane layout: 14 piece types for the side to move, 14 for the
	// opponent, 7 hand planes each, a side-to-move plane, and a
	// constant-ones plane.
	moverPlanes    = 0
	opponentPlanes = 14
	moverHands     = 28
	opponentHands  = 35
	sideToMove     = 42
	constantOnes   = 43
	PlaneCount     = 44

	TensorLen = PlaneCount * NumSquares

	// Action space: every (from, to, promote) board-move encoding
	// plus every (piece, to) drop encoding, from the mover's
	// perspective.
	boardActions = NumSquares * NumSquares * 2
	dropActions  = 7 * NumSquares
	NumActions   = boardActions + dropActions
)

// handMax returns the maximum number of pieces of the given type one
// player can hold. Hand planes are normalized per type by this value;
// a single shared constant would collapse the dynamic range of the
// low-supply types.
func handMax(t shogi.PieceType) float32 {
	switch t {
	case shogi.Pawn:
		return 18
	case shogi.Bishop, shogi.Rook:
		return 2
	default:
		return 4
	}
}

// perspective maps board coordinates to the mover's point of view:
// identity for Black, a 180° rotation for White. The encoder and the
// action-index mapping share this single definition so the policy
// head and the board always agree.
func perspective(mover shogi.Color, row, col int) (int, int) {
	if mover == shogi.Black {
		return row, col
	}
	return BoardSize - 1 - row, BoardSize - 1 - col
}

// Observation renders p as a flat (PlaneCount, 9, 9) float32 tensor
// from the point of view of the side to move.
func Observation(p *shogi.Position) []float32 {
	obs := make([]float32, TensorLen)
	mover := p.Turn()

	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			pc, ok := p.PieceAt(row, col)
			if !ok {
				continue
			}
			vr, vc := perspective(mover, row, col)
			plane := moverPlanes + int(pc.Type)
			if pc.Color != mover {
				plane = opponentPlanes + int(pc.Type)
			}
			obs[plane*NumSquares+vr*BoardSize+vc] = 1
		}
	}

	for i, t := range shogi.DropTypes {
		mine := math32.Min(float32(p.HandCount(mover, t))/handMax(t), 1)
		theirs := math32.Min(float32(p.HandCount(mover.Opponent(), t))/handMax(t), 1)
		fillPlane(obs, moverHands+i, mine)
		fillPlane(obs, opponentHands+i, theirs)
	}

	if mover == shogi.Black {
		fillPlane(obs, sideToMove, 1)
	}
	fillPlane(obs, constantOnes, 1)
	return obs
}

func fillPlane(obs []float32, plane int, v float32) {
	if v == 0 {
		return
	}
	base := plane * NumSquares
	for i := 0; i < NumSquares; i++ {
		obs[base+i] = v
	}
}

var dropIndex = func() map[shogi.PieceType]int {
	m := make(map[shogi.PieceType]int, len(shogi.DropTypes))
	for i, t := range shogi.DropTypes {
		m[t] = i
	}
	return m
}()

// MoveToIndex maps a move to its fixed action-space index from the
// mover's perspective.
func MoveToIndex(m shogi.Move, mover shogi.Color) (int, error) {
	toRow, toCol := perspective(mover, m.ToRow, m.ToCol)
	to := toRow*BoardSize + toCol
	if m.Drop {
		di, ok := dropIndex[m.Piece]
		if !ok {
			return 0, fmt.Errorf("move %s: %s is not droppable", m, m.Piece)
		}
		return boardActions + di*NumSquares + to, nil
	}
	fromRow, fromCol := perspective(mover, m.FromRow, m.FromCol)
	from := fromRow*BoardSize + fromCol
	idx := (from*NumSquares + to) * 2
	if m.Promote {
		idx++
	}
	return idx, nil
}

// IndexToMove inverts MoveToIndex for the given mover.
func IndexToMove(idx int, mover shogi.Color) (shogi.Move, error) {
	if idx < 0 || idx >= NumActions {
		return shogi.Move{}, fmt.Errorf("action index %d out of range", idx)
	}
	if idx >= boardActions {
		rest := idx - boardActions
		di := rest / NumSquares
		to := rest % NumSquares
		toRow, toCol := perspective(mover, to/BoardSize, to%BoardSize)
		return shogi.Move{
			Drop:  true,
			Piece: shogi.DropTypes[di],
			ToRow: toRow, ToCol: toCol,
		}, nil
	}
	promote := idx%2 == 1
	pair := idx / 2
	from := pair / NumSquares
	to := pair % NumSquares
	fromRow, fromCol := perspective(mover, from/BoardSize, from%BoardSize)
	toRow, toCol := perspective(mover, to/BoardSize, to%BoardSize)
	return shogi.Move{
		FromRow: fromRow, FromCol: fromCol,
		ToRow: toRow, ToCol: toCol,
		Promote: promote,
	}, nil
}

// LegalMask builds the legal-action bitmask for the side to move,
// returning the mask alongside the underlying legal moves.
func LegalMask(p *shogi.Position) ([]bool, []shogi.Move, error) {
	legal, err := p.LegalMoves(p.Turn())
	if err != nil {
		return nil, nil, err
	}
	mask := make([]bool, NumActions)
	for _, m := range legal {
		idx, err := MoveToIndex(m, p.Turn())
		if err != nil {
			return nil, nil, err
		}
		mask[idx] = true
	}
	return mask, legal, nil
}
