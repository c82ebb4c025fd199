package shogi

import (
	"errors"
	"math/rand"
	"testing"
)

func mustSet(t *testing.T, p *Position, row, col int, pt PieceType, c Color) {
	t.Helper()
	if err := p.SetPiece(row, col, pt, c); err != nil {
		t.Fatalf("set piece: %v", err)
	}
}

// TestLegalitySoundness verifies no generated legal move ever leaves
// the mover's own king in check.
func TestLegalitySoundness(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	p, err := InitialPosition()
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	for step := 0; step < 50 && !p.GameOver(); step++ {
		mover := p.Turn()
		legal, err := p.LegalMoves(mover)
		if err != nil {
			t.Fatalf("legal moves: %v", err)
		}
		for _, m := range legal {
			if err := p.push(m); err != nil {
				t.Fatalf("push %s: %v", m, err)
			}
			inCheck, err := p.InCheck(mover)
			if err != nil {
				t.Fatalf("check after %s: %v", m, err)
			}
			if inCheck {
				t.Fatalf("legal move %s leaves own king in check", m)
			}
			if err := p.pop(); err != nil {
				t.Fatalf("pop %s: %v", m, err)
			}
		}
		if len(legal) == 0 {
			break
		}
		if err := p.Apply(legal[rng.Intn(len(legal))]); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
}

// TestInitialPositionMoveCount verifies the well-known legal move
// count of the shogi start position.
func TestInitialPositionMoveCount(t *testing.T) {
	p, err := InitialPosition()
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	legal, err := p.LegalMoves(Black)
	if err != nil {
		t.Fatalf("legal moves: %v", err)
	}
	if len(legal) != 30 {
		t.Fatalf("start position has %d legal moves, want 30", len(legal))
	}
}

// TestCheckmateClassification verifies the head-gold mate ends the
// game as CHECKMATE with zero legal replies.
func TestCheckmateClassification(t *testing.T) {
	p := headGoldMatePosition(t)
	if err := p.Apply(Move{FromRow: 2, FromCol: 4, ToRow: 1, ToCol: 4}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !p.GameOver() {
		t.Fatal("game should be over")
	}
	if p.Reason() != Checkmate {
		t.Fatalf("reason %s, want checkmate", p.Reason())
	}
	if w := p.Winner(); w == nil || *w != Black {
		t.Fatal("black should win by checkmate")
	}
}

// TestStalemateClassification verifies a no-moves-no-check terminal
// is STALEMATE and, per shogi convention, a loss for the stuck side.
func TestStalemateClassification(t *testing.T) {
	p := NewPosition()
	mustSet(t, p, 0, 0, King, White)   // white king 9a, boxed in the corner
	mustSet(t, p, 2, 1, Gold, Black)   // covers 9b and 8b
	mustSet(t, p, 2, 3, Silver, Black) // will step to 7b, covering 8a
	mustSet(t, p, 8, 8, King, Black)
	p.SetTurn(Black)

	if err := p.Apply(Move{FromRow: 2, FromCol: 3, ToRow: 1, ToCol: 2}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !p.GameOver() {
		inCheck, _ := p.InCheck(White)
		legal, _ := p.LegalMoves(White)
		t.Fatalf("game should be over (check=%v, %d legal moves)", inCheck, len(legal))
	}
	if p.Reason() != Stalemate {
		t.Fatalf("reason %s, want stalemate", p.Reason())
	}
	if w := p.Winner(); w == nil || *w != Black {
		t.Fatal("stalemate should be a loss for the stalemated side")
	}
}

// TestNifu verifies no pawn drop is generated on a file that already
// holds an unpromoted pawn of the same color.
func TestNifu(t *testing.T) {
	p := NewPosition()
	mustSet(t, p, 8, 4, King, Black)
	mustSet(t, p, 0, 4, King, White)
	mustSet(t, p, 4, 2, Pawn, Black) // black pawn on file 7
	if err := p.SetHand(Black, Pawn, 1); err != nil {
		t.Fatalf("set hand: %v", err)
	}
	p.SetTurn(Black)

	legal, err := p.LegalMoves(Black)
	if err != nil {
		t.Fatalf("legal moves: %v", err)
	}
	for _, m := range legal {
		if m.Drop && m.Piece == Pawn && m.ToCol == 2 {
			t.Fatalf("nifu drop generated: %s", m)
		}
	}
	// The same drop on any other file must exist.
	found := false
	for _, m := range legal {
		if m.Drop && m.Piece == Pawn && m.ToCol == 3 {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("pawn drop on a free file missing")
	}
}

// TestDropPawnMate verifies the uchi-fu-zume rule: a pawn drop that
// delivers an unanswerable mate is detected and excluded, while the
// same drop with an escape square available stays legal.
func TestDropPawnMate(t *testing.T) {
	build := func(withLeftLance bool) *Position {
		p := NewPosition()
		mustSet(t, p, 0, 4, King, White)  // white king 5a
		mustSet(t, p, 2, 4, King, Black)  // black king 5c, guards 5b
		mustSet(t, p, 0, 5, Lance, White) // white lance 4a blocks escape
		if withLeftLance {
			mustSet(t, p, 0, 3, Lance, White) // white lance 6a blocks the other escape
		}
		if err := p.SetHand(Black, Pawn, 1); err != nil {
			t.Fatalf("set hand: %v", err)
		}
		p.SetTurn(Black)
		return p
	}

	sealed := build(true)
	mate, err := sealed.IsDropPawnMate(Black, 1, 4)
	if err != nil {
		t.Fatalf("drop pawn mate: %v", err)
	}
	if !mate {
		t.Fatal("sealed position should be uchi-fu-zume")
	}
	legal, err := sealed.LegalMoves(Black)
	if err != nil {
		t.Fatalf("legal moves: %v", err)
	}
	for _, m := range legal {
		if m.Drop && m.Piece == Pawn && m.ToRow == 1 && m.ToCol == 4 {
			t.Fatalf("uchi-fu-zume drop generated: %s", m)
		}
	}

	open := build(false)
	mate, err = open.IsDropPawnMate(Black, 1, 4)
	if err != nil {
		t.Fatalf("drop pawn mate: %v", err)
	}
	if mate {
		t.Fatal("king can escape to 6a; drop is not uchi-fu-zume")
	}

	// The speculative check must leave the position untouched.
	if sealed.HandCount(Black, Pawn) != 1 {
		t.Fatal("drop-pawn-mate check consumed the hand pawn")
	}
	if _, ok := sealed.PieceAt(1, 4); ok {
		t.Fatal("drop-pawn-mate check left the pawn on the board")
	}
	if sealed.MoveCount() != 0 {
		t.Fatal("drop-pawn-mate check left history entries behind")
	}
}

// TestRepetitionDraw verifies sennichite fires exactly on the fourth
// occurrence of a position, not earlier.
func TestRepetitionDraw(t *testing.T) {
	p := NewPosition()
	mustSet(t, p, 8, 4, King, Black)
	mustSet(t, p, 0, 4, King, White)
	p.SetTurn(Black)
	p.SetMoveLimit(0)

	cycle := []string{"5i6i", "5a6a", "6i5i", "6a5a"}
	for rep := 0; rep < 3; rep++ {
		for i, usi := range cycle {
			m, err := ParseUSIMove(usi)
			if err != nil {
				t.Fatalf("parse %s: %v", usi, err)
			}
			if err := p.Apply(m); err != nil {
				t.Fatalf("rep %d move %s: %v", rep, usi, err)
			}
			last := rep == 2 && i == len(cycle)-1
			if p.GameOver() != last {
				t.Fatalf("rep %d move %s: gameOver=%v, want %v", rep, usi, p.GameOver(), last)
			}
		}
	}
	if p.Reason() != RepetitionDraw {
		t.Fatalf("reason %s, want repetition draw", p.Reason())
	}
	if p.Winner() != nil {
		t.Fatal("sennichite should be a draw")
	}
	if !p.CheckRepetition() {
		t.Fatal("CheckRepetition should report true")
	}
}

// TestInCheckMissingKing verifies a kingless board is surfaced as
// corruption, not reported as a playable state.
func TestInCheckMissingKing(t *testing.T) {
	p := NewPosition()
	mustSet(t, p, 8, 4, King, Black)
	_, err := p.InCheck(White)
	var ce *CorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("want CorruptionError, got %v", err)
	}
}

// TestMandatoryPromotion verifies a pawn reaching the last rank is
// only generated as a promotion.
func TestMandatoryPromotion(t *testing.T) {
	p := NewPosition()
	mustSet(t, p, 8, 4, King, Black)
	mustSet(t, p, 0, 4, King, White)
	mustSet(t, p, 1, 0, Pawn, Black) // black pawn on 9b, one step from 9a
	p.SetTurn(Black)

	legal, err := p.LegalMoves(Black)
	if err != nil {
		t.Fatalf("legal moves: %v", err)
	}
	sawPromotion := false
	for _, m := range legal {
		if m.Drop || m.FromRow != 1 || m.FromCol != 0 {
			continue
		}
		if !m.Promote {
			t.Fatalf("non-promoting pawn move to last rank generated: %s", m)
		}
		sawPromotion = true
	}
	if !sawPromotion {
		t.Fatal("promoting pawn move missing")
	}
}

// TestIsSquareAttacked verifies sliding attacks respect blockers.
func TestIsSquareAttacked(t *testing.T) {
	p := NewPosition()
	mustSet(t, p, 8, 4, King, Black)
	mustSet(t, p, 0, 0, King, White)
	mustSet(t, p, 4, 4, Rook, Black)
	if !p.IsSquareAttacked(4, 8, Black) {
		t.Fatal("rook should attack along the rank")
	}
	if !p.IsSquareAttacked(0, 4, Black) {
		t.Fatal("rook should attack along the file")
	}
	mustSet(t, p, 4, 6, Pawn, White)
	if p.IsSquareAttacked(4, 8, Black) {
		t.Fatal("blocked rook should not attack past the blocker")
	}
	if !p.IsSquareAttacked(4, 6, Black) {
		t.Fatal("rook should attack the blocker's square")
	}
}
