package encode

import (
	"testing"

	"sente/pkg/shogi"
)

// TestHandNormalization verifies each hand plane is normalized by
// that piece type's own maximum count.
func TestHandNormalization(t *testing.T) {
	p := shogi.NewPosition()
	if err := p.SetPiece(8, 4, shogi.King, shogi.Black); err != nil {
		t.Fatalf("set piece: %v", err)
	}
	if err := p.SetPiece(0, 4, shogi.King, shogi.White); err != nil {
		t.Fatalf("set piece: %v", err)
	}
	if err := p.SetHand(shogi.Black, shogi.Rook, 2); err != nil {
		t.Fatalf("set hand: %v", err)
	}
	if err := p.SetHand(shogi.Black, shogi.Pawn, 2); err != nil {
		t.Fatalf("set hand: %v", err)
	}
	obs := Observation(p)

	rookPlane := moverHands + 6 // DropTypes order: P L N S G B R
	pawnPlane := moverHands + 0
	if got := obs[rookPlane*NumSquares]; got != 1.0 {
		t.Fatalf("2 rooks in hand should encode as 1.0 (2/2), got %v", got)
	}
	if got := obs[pawnPlane*NumSquares]; got < 0.11 || got > 0.112 {
		t.Fatalf("2 pawns in hand should encode as 2/18, got %v", got)
	}
}

// TestPerspectiveRotation verifies White's observation is the 180°
// rotation of the board: White's own king appears on the same plane
// and square as Black's king does for Black.
func TestPerspectiveRotation(t *testing.T) {
	p, err := shogi.InitialPosition()
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	blackObs := Observation(p)

	if err := p.Apply(mustMove(t, "7g7f")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	whiteObs := Observation(p)

	kingPlane := moverPlanes + int(shogi.King)
	// Black king on 5i = row 8, col 4; from Black's view that square
	// is index 8*9+4.
	if blackObs[kingPlane*NumSquares+8*BoardSize+4] != 1 {
		t.Fatal("black king missing from mover plane")
	}
	// White king on 5a = row 0, col 4; rotated to row 8, col 4 from
	// White's view.
	if whiteObs[kingPlane*NumSquares+8*BoardSize+4] != 1 {
		t.Fatal("white king not perspective-normalized")
	}
	if whiteObs[sideToMove*NumSquares] != 0 {
		t.Fatal("side-to-move plane should be zero for white")
	}
	if blackObs[sideToMove*NumSquares] != 1 {
		t.Fatal("side-to-move plane should be one for black")
	}
}

// TestMoveIndexRoundTrip verifies every legal move in a position maps
// to a unique index and back, for both perspectives.
func TestMoveIndexRoundTrip(t *testing.T) {
	p, err := shogi.InitialPosition()
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	for turn := 0; turn < 2; turn++ {
		mover := p.Turn()
		legal, err := p.LegalMoves(mover)
		if err != nil {
			t.Fatalf("legal moves: %v", err)
		}
		seen := make(map[int]bool)
		for _, m := range legal {
			idx, err := MoveToIndex(m, mover)
			if err != nil {
				t.Fatalf("index of %s: %v", m, err)
			}
			if idx < 0 || idx >= NumActions {
				t.Fatalf("index %d out of range for %s", idx, m)
			}
			if seen[idx] {
				t.Fatalf("duplicate index %d for %s", idx, m)
			}
			seen[idx] = true
			back, err := IndexToMove(idx, mover)
			if err != nil {
				t.Fatalf("inverse of %d: %v", idx, err)
			}
			if back != m {
				t.Fatalf("round trip %s -> %d -> %s", m, idx, back)
			}
		}
		if err := p.Apply(legal[0]); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
}

// TestLegalMask verifies the mask marks exactly the legal moves.
func TestLegalMask(t *testing.T) {
	p, err := shogi.InitialPosition()
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	mask, legal, err := LegalMask(p)
	if err != nil {
		t.Fatalf("legal mask: %v", err)
	}
	if len(mask) != NumActions {
		t.Fatalf("mask length %d, want %d", len(mask), NumActions)
	}
	count := 0
	for _, on := range mask {
		if on {
			count++
		}
	}
	if count != len(legal) {
		t.Fatalf("mask has %d set bits, want %d", count, len(legal))
	}
}

// TestDropIndexRange verifies drop encodings land in the drop block.
func TestDropIndexRange(t *testing.T) {
	m := shogi.Move{Drop: true, Piece: shogi.Rook, ToRow: 4, ToCol: 4}
	idx, err := MoveToIndex(m, shogi.Black)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if idx < boardActions {
		t.Fatalf("drop index %d inside board-move block", idx)
	}
	back, err := IndexToMove(idx, shogi.Black)
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	if back != m {
		t.Fatalf("round trip %s -> %s", m, back)
	}
}

func mustMove(t *testing.T, usi string) shogi.Move {
	t.Helper()
	m, err := shogi.ParseUSIMove(usi)
	if err != nil {
		t.Fatalf("parse %s: %v", usi, err)
	}
	return m
}
