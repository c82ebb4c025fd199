package shogi

import (
	"fmt"
)

// TerminationReason classifies how a game ended.
type TerminationReason int

const (
	NoTermination TerminationReason = iota
	Checkmate
	Stalemate
	RepetitionDraw
	MaxMovesDraw
	Resignation
)

func (r TerminationReason) String() string {
	switch r {
	case NoTermination:
		return "in_progress"
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case RepetitionDraw:
		return "repetition_draw"
	case MaxMovesDraw:
		return "max_moves_draw"
	case Resignation:
		return "resignation"
	}
	return fmt.Sprintf("TerminationReason(%d)", int(r))
}

// DefaultMoveLimit caps game length for self-play; reaching it ends
// the game as a draw.
const DefaultMoveLimit = 512

// MoveRecord holds everything needed to reverse one move exactly.
type MoveRecord struct {
	Move     Move
	moved    Piece  // board move: the piece as it stood on the from-square
	captured *Piece // board move: destination occupant before the move

	prevGameOver bool
	prevWinner   *Color
	prevReason   TerminationReason
}

// Position is the canonical game state: board, hands, side to move,
// and the full move and hash histories. It is mutated exclusively
// through Apply/Undo (and push/pop for speculative search) and is not
// safe for concurrent use; each self-play worker owns its own copy.
type Position struct {
	board [9][9]*Piece
	hands [2]map[PieceType]int
	turn  Color
	hash  uint64

	moveHistory []MoveRecord
	hashHistory []uint64

	gameOver bool
	winner   *Color
	reason   TerminationReason

	moveLimit int
}

// NewPosition returns an empty board with empty hands, Black to move.
// Intended for tests and position setup; use InitialPosition for the
// standard opening array.
func NewPosition() *Position {
	p := &Position{
		hands: [2]map[PieceType]int{
			Black: make(map[PieceType]int),
			White: make(map[PieceType]int),
		},
		turn:      Black,
		moveLimit: DefaultMoveLimit,
	}
	p.hash = p.computeHash()
	p.hashHistory = append(p.hashHistory, p.hash)
	return p
}

// InitialPosition returns the standard opening position.
func InitialPosition() (*Position, error) {
	return ParseSFEN(StartSFEN)
}

func (p *Position) Turn() Color               { return p.turn }
func (p *Position) GameOver() bool            { return p.gameOver }
func (p *Position) Reason() TerminationReason { return p.reason }
func (p *Position) Hash() uint64              { return p.hash }
func (p *Position) MoveCount() int            { return len(p.moveHistory) }

// Winner returns the winning color, or nil for a draw or an
// unfinished game.
func (p *Position) Winner() *Color {
	if p.winner == nil {
		return nil
	}
	w := *p.winner
	return &w
}

// Moves returns the applied moves in order.
func (p *Position) Moves() []Move {
	out := make([]Move, len(p.moveHistory))
	for i, rec := range p.moveHistory {
		out[i] = rec.Move
	}
	return out
}

// HashHistory returns a copy of the recorded position hashes, one per
// position reached (including the initial one).
func (p *Position) HashHistory() []uint64 {
	out := make([]uint64, len(p.hashHistory))
	copy(out, p.hashHistory)
	return out
}

// PieceAt returns the piece on (row, col), if any. Out-of-bounds
// coordinates read as empty.
func (p *Position) PieceAt(row, col int) (Piece, bool) {
	if !onBoard(row, col) {
		return Piece{}, false
	}
	pc := p.board[row][col]
	if pc == nil {
		return Piece{}, false
	}
	return *pc, true
}

// HandCount returns how many pieces of the given unpromoted type the
// player holds.
func (p *Position) HandCount(c Color, t PieceType) int {
	return p.hands[c][t]
}

// SetMoveLimit overrides the move cap; zero disables it.
func (p *Position) SetMoveLimit(limit int) { p.moveLimit = limit }

// SetPiece places a piece during position setup and recomputes the
// hash. Placing outside the board is an error, never a silent no-op.
func (p *Position) SetPiece(row, col int, t PieceType, c Color) error {
	if !onBoard(row, col) {
		return corruptionf("SetPiece out of bounds: (%d,%d)", row, col)
	}
	pc := NewPiece(t, c)
	p.board[row][col] = &pc
	p.resetHash()
	return nil
}

// SetHand sets a hand count during position setup.
func (p *Position) SetHand(c Color, t PieceType, count int) error {
	if t.IsPromoted() || t == King {
		return corruptionf("cannot hold %s in hand", t)
	}
	if count < 0 {
		return corruptionf("negative hand count for %s", t)
	}
	if count == 0 {
		delete(p.hands[c], t)
	} else {
		p.hands[c][t] = count
	}
	p.resetHash()
	return nil
}

// SetTurn sets the side to move during position setup.
func (p *Position) SetTurn(c Color) {
	p.turn = c
	p.resetHash()
}

func (p *Position) resetHash() {
	p.hash = p.computeHash()
	if n := len(p.hashHistory); n > 0 {
		p.hashHistory[n-1] = p.hash
	} else {
		p.hashHistory = append(p.hashHistory, p.hash)
	}
}

// Clone returns a fully independent copy: board cells, hand maps, and
// both history lists are copied, never aliased. History is preserved
// in full so repetition detection keeps working on the clone.
func (p *Position) Clone() *Position {
	c := &Position{
		turn:      p.turn,
		hash:      p.hash,
		gameOver:  p.gameOver,
		reason:    p.reason,
		moveLimit: p.moveLimit,
		hands: [2]map[PieceType]int{
			Black: make(map[PieceType]int, len(p.hands[Black])),
			White: make(map[PieceType]int, len(p.hands[White])),
		},
	}
	for row := 0; row < 9; row++ {
		for col := 0; col < 9; col++ {
			if pc := p.board[row][col]; pc != nil {
				cp := *pc
				c.board[row][col] = &cp
			}
		}
	}
	for _, side := range []Color{Black, White} {
		for t, n := range p.hands[side] {
			c.hands[side][t] = n
		}
	}
	if p.winner != nil {
		w := *p.winner
		c.winner = &w
	}
	c.moveHistory = make([]MoveRecord, len(p.moveHistory))
	copy(c.moveHistory, p.moveHistory)
	c.hashHistory = make([]uint64, len(p.hashHistory))
	copy(c.hashHistory, p.hashHistory)
	return c
}

// Apply validates m against the legal move set, applies it, and
// evaluates termination. An illegal move leaves the position
// untouched and returns an IllegalMoveError.
func (p *Position) Apply(m Move) error {
	if p.gameOver {
		return fmt.Errorf("apply %s: %w", m, ErrGameOver)
	}
	legal, err := p.LegalMoves(p.turn)
	if err != nil {
		return err
	}
	found := false
	for _, lm := range legal {
		if lm == m {
			found = true
			break
		}
	}
	if !found {
		return illegalf(m, "not in legal move set for %s", p.turn)
	}
	if err := p.push(m); err != nil {
		return err
	}
	return p.evaluateTermination()
}

// Undo reverses the most recent move, restoring board, hands, turn,
// histories, and termination state exactly.
func (p *Position) Undo() error {
	return p.pop()
}

// push applies m without legality checks and records everything
// needed for an exact reversal. Structural violations (moving from an
// empty square, dropping from an empty hand, out-of-bounds targets)
// are corruption, not illegal moves: push is only reached with
// generated or validated candidates.
func (p *Position) push(m Move) error {
	if !onBoard(m.ToRow, m.ToCol) {
		return corruptionf("move target out of bounds: %s", m)
	}
	rec := MoveRecord{
		Move:         m,
		prevGameOver: p.gameOver,
		prevWinner:   p.winner,
		prevReason:   p.reason,
	}

	if m.Drop {
		if m.Piece.IsPromoted() || m.Piece == King {
			return corruptionf("drop of non-hand piece %s", m.Piece)
		}
		n := p.hands[p.turn][m.Piece]
		if n <= 0 {
			return corruptionf("drop %s with empty hand", m.Piece)
		}
		if p.board[m.ToRow][m.ToCol] != nil {
			return corruptionf("drop onto occupied square: %s", m)
		}
		p.hash ^= handKey(m.Piece, p.turn, n) ^ handKey(m.Piece, p.turn, n-1)
		if n == 1 {
			delete(p.hands[p.turn], m.Piece)
		} else {
			p.hands[p.turn][m.Piece] = n - 1
		}
		pc := NewPiece(m.Piece, p.turn)
		p.board[m.ToRow][m.ToCol] = &pc
		p.hash ^= pieceKey(pc, m.ToRow, m.ToCol)
	} else {
		if !onBoard(m.FromRow, m.FromCol) {
			return corruptionf("move source out of bounds: %s", m)
		}
		src := p.board[m.FromRow][m.FromCol]
		if src == nil {
			return corruptionf("no piece on source square of %s", m)
		}
		if src.Color != p.turn {
			return corruptionf("moving %s piece on %s's turn", src.Color, p.turn)
		}
		rec.moved = *src
		if dst := p.board[m.ToRow][m.ToCol]; dst != nil {
			if dst.Color == p.turn {
				return corruptionf("capture of own piece: %s", m)
			}
			if dst.Type == King {
				return corruptionf("king capture reached push: %s", m)
			}
			cap := *dst
			rec.captured = &cap
			base := dst.Type.Demoted()
			n := p.hands[p.turn][base]
			p.hash ^= pieceKey(cap, m.ToRow, m.ToCol)
			p.hash ^= handKey(base, p.turn, n) ^ handKey(base, p.turn, n+1)
			p.hands[p.turn][base] = n + 1
		}
		placed := *src
		if m.Promote {
			if !src.Type.CanPromote() {
				return corruptionf("promotion of %s: %s", src.Type, m)
			}
			placed = NewPiece(src.Type.Promoted(), src.Color)
		}
		p.hash ^= pieceKey(*src, m.FromRow, m.FromCol)
		p.board[m.FromRow][m.FromCol] = nil
		p.board[m.ToRow][m.ToCol] = &placed
		p.hash ^= pieceKey(placed, m.ToRow, m.ToCol)
	}

	p.turn = p.turn.Opponent()
	p.hash ^= sideKey
	p.moveHistory = append(p.moveHistory, rec)
	p.hashHistory = append(p.hashHistory, p.hash)
	return nil
}

// pop reverses the most recent push. Any inconsistency found here is
// corruption and is surfaced, never tolerated: a silently wrong undo
// is indistinguishable from corrupted training data downstream.
func (p *Position) pop() error {
	n := len(p.moveHistory)
	if n == 0 {
		return corruptionf("undo with empty move history")
	}
	if len(p.hashHistory) != n+1 {
		return corruptionf("history length mismatch: %d moves, %d hashes", n, len(p.hashHistory))
	}
	rec := p.moveHistory[n-1]
	m := rec.Move
	mover := p.turn.Opponent()

	if m.Drop {
		pc := p.board[m.ToRow][m.ToCol]
		if pc == nil || pc.Color != mover || pc.Type != m.Piece {
			return corruptionf("undo drop: square (%d,%d) does not hold dropped %s", m.ToRow, m.ToCol, m.Piece)
		}
		p.hash ^= pieceKey(*pc, m.ToRow, m.ToCol)
		p.board[m.ToRow][m.ToCol] = nil
		cnt := p.hands[mover][m.Piece]
		p.hash ^= handKey(m.Piece, mover, cnt) ^ handKey(m.Piece, mover, cnt+1)
		p.hands[mover][m.Piece] = cnt + 1
	} else {
		pc := p.board[m.ToRow][m.ToCol]
		if pc == nil || pc.Color != mover {
			return corruptionf("undo move: destination (%d,%d) does not hold mover's piece", m.ToRow, m.ToCol)
		}
		if p.board[m.FromRow][m.FromCol] != nil {
			return corruptionf("undo move: source (%d,%d) is occupied", m.FromRow, m.FromCol)
		}
		p.hash ^= pieceKey(*pc, m.ToRow, m.ToCol)
		moved := rec.moved
		p.board[m.FromRow][m.FromCol] = &moved
		p.hash ^= pieceKey(moved, m.FromRow, m.FromCol)
		if rec.captured != nil {
			cap := *rec.captured
			p.board[m.ToRow][m.ToCol] = &cap
			p.hash ^= pieceKey(cap, m.ToRow, m.ToCol)
			base := cap.Type.Demoted()
			cnt := p.hands[mover][base]
			if cnt <= 0 {
				return corruptionf("undo capture: hand count for %s already zero", base)
			}
			p.hash ^= handKey(base, mover, cnt) ^ handKey(base, mover, cnt-1)
			if cnt == 1 {
				delete(p.hands[mover], base)
			} else {
				p.hands[mover][base] = cnt - 1
			}
		} else {
			p.board[m.ToRow][m.ToCol] = nil
		}
	}

	p.turn = mover
	p.hash ^= sideKey
	p.moveHistory = p.moveHistory[:n-1]
	p.hashHistory = p.hashHistory[:n]
	if want := p.hashHistory[len(p.hashHistory)-1]; want != p.hash {
		return corruptionf("undo hash mismatch: have %016x want %016x", p.hash, want)
	}
	p.gameOver = rec.prevGameOver
	p.winner = rec.prevWinner
	p.reason = rec.prevReason
	return nil
}

// simulate applies m, runs fn on the mutated position, and always
// undoes m, on error and success paths alike. The deferred pop is the
// guaranteed-cleanup half of the simulate-then-undo pattern; a pop
// failure is corruption and takes precedence when fn itself succeeded.
func (p *Position) simulate(m Move, fn func(*Position) error) (err error) {
	if err = p.push(m); err != nil {
		return err
	}
	defer func() {
		if perr := p.pop(); perr != nil && err == nil {
			err = perr
		}
	}()
	return fn(p)
}

// Resign ends the game in favor of the resigner's opponent.
func (p *Position) Resign(c Color) error {
	if p.gameOver {
		return ErrGameOver
	}
	w := c.Opponent()
	p.gameOver = true
	p.winner = &w
	p.reason = Resignation
	return nil
}

// evaluateTermination runs the termination state machine after a
// move: no legal reply in check is checkmate, no legal reply out of
// check is stalemate (a loss for the stalemated side in shogi),
// then repetition, then the move cap.
func (p *Position) evaluateTermination() error {
	legal, err := p.LegalMoves(p.turn)
	if err != nil {
		return err
	}
	if len(legal) == 0 {
		inCheck, err := p.InCheck(p.turn)
		if err != nil {
			return err
		}
		w := p.turn.Opponent()
		p.gameOver = true
		p.winner = &w
		if inCheck {
			p.reason = Checkmate
		} else {
			p.reason = Stalemate
		}
		return nil
	}
	if p.CheckRepetition() {
		p.gameOver = true
		p.winner = nil
		p.reason = RepetitionDraw
		return nil
	}
	if p.moveLimit > 0 && len(p.moveHistory) >= p.moveLimit {
		p.gameOver = true
		p.winner = nil
		p.reason = MaxMovesDraw
	}
	return nil
}

// Validate checks material conservation and king presence. It is a
// debugging aid for tests and corruption triage, not part of the hot
// path.
func (p *Position) Validate() error {
	counts := make(map[PieceType]int)
	kings := map[Color]int{}
	for row := 0; row < 9; row++ {
		for col := 0; col < 9; col++ {
			pc := p.board[row][col]
			if pc == nil {
				continue
			}
			if pc.Promoted != pc.Type.IsPromoted() {
				return corruptionf("piece at (%d,%d) has inconsistent promotion flag", row, col)
			}
			counts[pc.Type.Demoted()]++
			if pc.Type == King {
				kings[pc.Color]++
			}
		}
	}
	for _, side := range []Color{Black, White} {
		if kings[side] > 1 {
			return corruptionf("%s has %d kings", side, kings[side])
		}
		for t, cnt := range p.hands[side] {
			if cnt < 0 {
				return corruptionf("%s hand has negative %s count", side, t)
			}
			counts[t.Demoted()] += cnt
		}
	}
	for _, t := range []PieceType{Pawn, Lance, Knight, Silver, Gold, Bishop, Rook, King} {
		if counts[t] > Supply(t) {
			return corruptionf("%d %s in play, supply is %d", counts[t], t, Supply(t))
		}
	}
	return nil
}
