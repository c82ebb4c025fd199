package shogi

// Zobrist keys for position hashing. The hash covers board contents,
// both hands, and the side to move, so two positions compare equal
// for sennichite purposes exactly when all three agree.

type splitmix64 struct {
	state uint64
}

func (s *splitmix64) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

var (
	// pieceKeys[type][color][square]
	pieceKeys [numPieceTypes][2][81]uint64
	// handKeys[type][color][count]; count 0 maps to 0 so that an
	// empty hand contributes nothing.
	handKeys [numPieceTypes][2][19]uint64
	sideKey  uint64
)

func init() {
	rng := splitmix64{state: 0x5b5ad4b7a6d21e01}
	for t := 0; t < int(numPieceTypes); t++ {
		for c := 0; c < 2; c++ {
			for sq := 0; sq < 81; sq++ {
				pieceKeys[t][c][sq] = rng.next()
			}
			for n := 1; n < 19; n++ {
				handKeys[t][c][n] = rng.next()
			}
		}
	}
	sideKey = rng.next()
}

func pieceKey(p Piece, row, col int) uint64 {
	return pieceKeys[p.Type][p.Color][row*9+col]
}

func handKey(t PieceType, c Color, count int) uint64 {
	if count <= 0 || count > 18 {
		return 0
	}
	return handKeys[t][c][count]
}

// computeHash builds the hash from scratch. Incremental updates in
// push/pop must always agree with this.
func (p *Position) computeHash() uint64 {
	var h uint64
	for row := 0; row < 9; row++ {
		for col := 0; col < 9; col++ {
			if pc := p.board[row][col]; pc != nil {
				h ^= pieceKey(*pc, row, col)
			}
		}
	}
	for c := Black; c <= White; c++ {
		for t, n := range p.hands[c] {
			h ^= handKey(t, c, n)
		}
	}
	if p.turn == White {
		h ^= sideKey
	}
	return h
}
