package shogi

// Move generation and check detection. Legality uses the classic
// simulate-then-undo scheme: pseudo-legal candidates are applied via
// push, the mover's king safety is tested exactly once, and the move
// is undone through a deferred pop.

func forward(c Color) int {
	if c == Black {
		return -1
	}
	return 1
}

var orthoDirs = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
var diagDirs = [4][2]int{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}
var kingSteps = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// movement returns the single-step and sliding direction vectors for
// a piece type from the given color's point of view.
func movement(t PieceType, c Color) (steps, slides [][2]int) {
	f := forward(c)
	switch t {
	case Pawn:
		steps = [][2]int{{f, 0}}
	case Lance:
		slides = [][2]int{{f, 0}}
	case Knight:
		steps = [][2]int{{2 * f, -1}, {2 * f, 1}}
	case Silver:
		steps = [][2]int{{f, -1}, {f, 0}, {f, 1}, {-f, -1}, {-f, 1}}
	case Gold, PromotedPawn, PromotedLance, PromotedKnight, PromotedSilver:
		steps = [][2]int{{f, -1}, {f, 0}, {f, 1}, {0, -1}, {0, 1}, {-f, 0}}
	case Bishop:
		slides = diagDirs[:]
	case Rook:
		slides = orthoDirs[:]
	case King:
		steps = kingSteps[:]
	case Horse:
		slides = diagDirs[:]
		steps = orthoDirs[:]
	case Dragon:
		slides = orthoDirs[:]
		steps = diagDirs[:]
	}
	return steps, slides
}

// inPromotionZone reports whether row lies in c's promotion zone (the
// three ranks closest to the opponent).
func inPromotionZone(c Color, row int) bool {
	if c == Black {
		return row <= 2
	}
	return row >= 6
}

// mustPromote reports whether a piece of type t moving to row would
// have no further legal moves unpromoted and therefore must promote.
func mustPromote(t PieceType, c Color, row int) bool {
	switch t {
	case Pawn, Lance:
		if c == Black {
			return row == 0
		}
		return row == 8
	case Knight:
		if c == Black {
			return row <= 1
		}
		return row >= 7
	}
	return false
}

// hasUnpromotedPawnOnFile reports whether c already has an unpromoted
// pawn on the given column (the nifu rule forbids a second).
func (p *Position) hasUnpromotedPawnOnFile(c Color, col int) bool {
	for row := 0; row < 9; row++ {
		pc := p.board[row][col]
		if pc != nil && pc.Color == c && pc.Type == Pawn {
			return true
		}
	}
	return false
}

// pseudoMoves generates every pseudo-legal move for c: piece movement
// with sliding blocks, promotion options with mandatory promotions,
// and drops respecting empty-square, dead-piece-rank and nifu rules.
// King safety and drop-pawn-mate are not checked here.
func (p *Position) pseudoMoves(c Color) []Move {
	moves := make([]Move, 0, 128)
	for row := 0; row < 9; row++ {
		for col := 0; col < 9; col++ {
			pc := p.board[row][col]
			if pc == nil || pc.Color != c {
				continue
			}
			p.appendPieceMoves(&moves, *pc, row, col)
		}
	}
	p.appendDropMoves(&moves, c)
	return moves
}

func (p *Position) appendPieceMoves(moves *[]Move, pc Piece, row, col int) {
	c := pc.Color
	emit := func(toRow, toCol int) {
		m := Move{FromRow: row, FromCol: col, ToRow: toRow, ToCol: toCol}
		canPromote := pc.Type.CanPromote() &&
			(inPromotionZone(c, row) || inPromotionZone(c, toRow))
		if canPromote {
			pm := m
			pm.Promote = true
			*moves = append(*moves, pm)
		}
		if !mustPromote(pc.Type, c, toRow) {
			*moves = append(*moves, m)
		}
	}
	steps, slides := movement(pc.Type, c)
	for _, d := range steps {
		toRow, toCol := row+d[0], col+d[1]
		if !onBoard(toRow, toCol) {
			continue
		}
		if dst := p.board[toRow][toCol]; dst == nil || dst.Color != c {
			emit(toRow, toCol)
		}
	}
	for _, d := range slides {
		toRow, toCol := row+d[0], col+d[1]
		for onBoard(toRow, toCol) {
			dst := p.board[toRow][toCol]
			if dst == nil {
				emit(toRow, toCol)
			} else {
				if dst.Color != c {
					emit(toRow, toCol)
				}
				break
			}
			toRow += d[0]
			toCol += d[1]
		}
	}
}

func (p *Position) appendDropMoves(moves *[]Move, c Color) {
	for _, t := range DropTypes {
		if p.hands[c][t] <= 0 {
			continue
		}
		for row := 0; row < 9; row++ {
			if mustPromote(t, c, row) {
				continue // the piece would never be able to move
			}
			for col := 0; col < 9; col++ {
				if p.board[row][col] != nil {
					continue
				}
				if t == Pawn && p.hasUnpromotedPawnOnFile(c, col) {
					continue
				}
				*moves = append(*moves, Move{Drop: true, Piece: t, ToRow: row, ToCol: col})
			}
		}
	}
}

// IsSquareAttacked reports whether any piece of byColor could move to
// (row, col), ignoring the attacker's own king safety.
func (p *Position) IsSquareAttacked(row, col int, byColor Color) bool {
	for fromRow := 0; fromRow < 9; fromRow++ {
		for fromCol := 0; fromCol < 9; fromCol++ {
			pc := p.board[fromRow][fromCol]
			if pc == nil || pc.Color != byColor {
				continue
			}
			steps, slides := movement(pc.Type, byColor)
			for _, d := range steps {
				if fromRow+d[0] == row && fromCol+d[1] == col {
					return true
				}
			}
			for _, d := range slides {
				toRow, toCol := fromRow+d[0], fromCol+d[1]
				for onBoard(toRow, toCol) {
					if toRow == row && toCol == col {
						return true
					}
					if p.board[toRow][toCol] != nil {
						break
					}
					toRow += d[0]
					toCol += d[1]
				}
			}
		}
	}
	return false
}

func (p *Position) kingSquare(c Color) (row, col int, ok bool) {
	for row := 0; row < 9; row++ {
		for col := 0; col < 9; col++ {
			pc := p.board[row][col]
			if pc != nil && pc.Color == c && pc.Type == King {
				return row, col, true
			}
		}
	}
	return 0, 0, false
}

// InCheck reports whether c's king is attacked. A board without c's
// king is corruption and is surfaced as such, never reported as a
// playable game state.
func (p *Position) InCheck(c Color) (bool, error) {
	row, col, ok := p.kingSquare(c)
	if !ok {
		return false, corruptionf("no %s king on the board", c)
	}
	return p.IsSquareAttacked(row, col, c.Opponent()), nil
}

// LegalMoves enumerates every legal move for c, who must be the side
// to move. A candidate is legal iff the mover's king is safe after
// simulating it; exactly one check-detection pass runs per candidate.
func (p *Position) LegalMoves(c Color) ([]Move, error) {
	return p.legalMoves(c, false)
}

// legalMoves with shallow=true skips the drop-pawn-mate test on pawn
// drops. It is used when answering "does the defender have any reply"
// inside IsDropPawnMate, where the nested test cannot change the
// answer but would recurse.
func (p *Position) legalMoves(c Color, shallow bool) ([]Move, error) {
	if c != p.turn {
		return nil, corruptionf("move generation for %s but %s is to move", c, p.turn)
	}
	pseudo := p.pseudoMoves(c)
	out := make([]Move, 0, len(pseudo))
	for _, m := range pseudo {
		if !shallow && m.Drop && m.Piece == Pawn {
			mate, err := p.IsDropPawnMate(c, m.ToRow, m.ToCol)
			if err != nil {
				return nil, err
			}
			if mate {
				continue
			}
		}
		safe := false
		err := p.simulate(m, func(np *Position) error {
			inCheck, err := np.InCheck(c)
			if err != nil {
				return err
			}
			safe = !inCheck
			return nil
		})
		if err != nil {
			return nil, err
		}
		if safe {
			out = append(out, m)
		}
	}
	return out, nil
}

// IsDropPawnMate reports whether c dropping a pawn on (row, col)
// would deliver an immediate checkmate (uchi-fu-zume, illegal). The
// speculative drop is always rolled back via the deferred undo in
// simulate, even if the nested evaluation fails.
func (p *Position) IsDropPawnMate(c Color, row, col int) (bool, error) {
	if p.hands[c][Pawn] <= 0 {
		return false, nil
	}
	if !onBoard(row, col) || p.board[row][col] != nil {
		return false, nil
	}
	m := Move{Drop: true, Piece: Pawn, ToRow: row, ToCol: col}
	mate := false
	err := p.simulate(m, func(np *Position) error {
		opp := c.Opponent()
		inCheck, err := np.InCheck(opp)
		if err != nil {
			return err
		}
		if !inCheck {
			return nil
		}
		replies, err := np.legalMoves(opp, true)
		if err != nil {
			return err
		}
		mate = len(replies) == 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return mate, nil
}

// CheckRepetition reports sennichite: the current position (board,
// hands, side to move) has now occurred four or more times. The hash
// history holds one entry per reached position, recorded after each
// move, so all compared hashes sit at consistent points in the turn
// cycle.
func (p *Position) CheckRepetition() bool {
	count := 0
	for _, h := range p.hashHistory {
		if h == p.hash {
			count++
		}
	}
	return count >= 4
}
