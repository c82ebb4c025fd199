package shogi

import "fmt"

// Move is either a board move (From/To squares plus an optional
// promotion) or a drop (Drop true, Piece naming the unpromoted type
// taken from the mover's hand). Coordinates are 0-based: row 0 is
// SFEN rank "a" (White's home rank), column 0 is file 9.
type Move struct {
	FromRow, FromCol int
	ToRow, ToCol     int
	Promote          bool
	Drop             bool
	Piece            PieceType
}

func onBoard(row, col int) bool {
	return row >= 0 && row < 9 && col >= 0 && col < 9
}

// fileOf converts a 0-based column to a 1-9 shogi file.
func fileOf(col int) int { return 9 - col }

// colOf converts a 1-9 shogi file to a 0-based column.
func colOf(file int) int { return 9 - file }

// USI returns the move in USI notation, e.g. "7g7f", "8h2b+", "P*5e".
func (m Move) USI() string {
	if m.Drop {
		return fmt.Sprintf("%s*%d%c", m.Piece, fileOf(m.ToCol), 'a'+m.ToRow)
	}
	s := fmt.Sprintf("%d%c%d%c", fileOf(m.FromCol), 'a'+m.FromRow, fileOf(m.ToCol), 'a'+m.ToRow)
	if m.Promote {
		s += "+"
	}
	return s
}

func (m Move) String() string { return m.USI() }

// ParseUSIMove parses USI move notation into a Move.
func ParseUSIMove(text string) (Move, error) {
	if len(text) >= 2 && text[1] == '*' {
		t, ok := letterToType[text[0]]
		if !ok || t == King {
			return Move{}, fmt.Errorf("invalid drop piece in %q", text)
		}
		row, col, err := parseUSISquare(text[2:])
		if err != nil {
			return Move{}, fmt.Errorf("invalid drop move %q: %w", text, err)
		}
		return Move{Drop: true, Piece: t, ToRow: row, ToCol: col}, nil
	}
	if len(text) < 4 || len(text) > 5 {
		return Move{}, fmt.Errorf("invalid move %q", text)
	}
	fromRow, fromCol, err := parseUSISquare(text[0:2])
	if err != nil {
		return Move{}, fmt.Errorf("invalid move %q: %w", text, err)
	}
	toRow, toCol, err := parseUSISquare(text[2:4])
	if err != nil {
		return Move{}, fmt.Errorf("invalid move %q: %w", text, err)
	}
	promote := false
	if len(text) == 5 {
		if text[4] != '+' {
			return Move{}, fmt.Errorf("invalid promotion marker in %q", text)
		}
		promote = true
	}
	return Move{
		FromRow: fromRow, FromCol: fromCol,
		ToRow: toRow, ToCol: toCol,
		Promote: promote,
	}, nil
}

func parseUSISquare(text string) (row, col int, err error) {
	if len(text) < 2 {
		return 0, 0, fmt.Errorf("invalid square %q", text)
	}
	file := int(text[0] - '0')
	if file < 1 || file > 9 {
		return 0, 0, fmt.Errorf("invalid file in %q", text)
	}
	rank := int(text[1]-'a') + 1
	if rank < 1 || rank > 9 {
		return 0, 0, fmt.Errorf("invalid rank in %q", text)
	}
	return rank - 1, colOf(file), nil
}
