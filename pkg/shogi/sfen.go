package shogi

import (
	"errors"
	"fmt"
	"strings"
)

// StartSFEN is the standard shogi opening position.
const StartSFEN = "lnsgkgsnl/1r5b1/ppppppppp/9/9/9/PPPPPPPPP/1B5R1/LNSGKGSNL b - 1"

// ParseSFEN builds a Position from SFEN notation (board, side to
// move, hands; the move number field is accepted and ignored).
func ParseSFEN(sfen string) (*Position, error) {
	fields := strings.Fields(sfen)
	if len(fields) < 3 {
		return nil, fmt.Errorf("invalid sfen %q: want at least 3 fields", sfen)
	}
	p := NewPosition()
	if err := parseSFENBoard(fields[0], p); err != nil {
		return nil, fmt.Errorf("invalid sfen %q: %w", sfen, err)
	}
	switch fields[1] {
	case "b":
		p.turn = Black
	case "w":
		p.turn = White
	default:
		return nil, fmt.Errorf("invalid sfen %q: bad side to move %q", sfen, fields[1])
	}
	if err := parseSFENHands(fields[2], p); err != nil {
		return nil, fmt.Errorf("invalid sfen %q: %w", sfen, err)
	}
	p.resetHash()
	return p, nil
}

func parseSFENBoard(board string, p *Position) error {
	ranks := strings.Split(board, "/")
	if len(ranks) != 9 {
		return fmt.Errorf("board has %d ranks, want 9", len(ranks))
	}
	for row, rankText := range ranks {
		file := 9
		for i := 0; i < len(rankText); i++ {
			ch := rankText[i]
			if ch >= '1' && ch <= '9' {
				file -= int(ch - '0')
				continue
			}
			promoted := false
			if ch == '+' {
				promoted = true
				i++
				if i >= len(rankText) {
					return errors.New("dangling promotion marker")
				}
				ch = rankText[i]
			}
			color := Black
			if ch >= 'a' && ch <= 'z' {
				color = White
				ch -= 'a' - 'A'
			}
			t, ok := letterToType[ch]
			if !ok {
				return fmt.Errorf("unknown piece letter %q", string(ch))
			}
			if promoted {
				if !t.CanPromote() {
					return fmt.Errorf("piece %s cannot be promoted", t)
				}
				t = t.Promoted()
			}
			if file < 1 {
				return fmt.Errorf("rank %d overflows 9 files", row+1)
			}
			pc := NewPiece(t, color)
			p.board[row][colOf(file)] = &pc
			file--
		}
		if file != 0 {
			return fmt.Errorf("rank %d does not fill 9 files", row+1)
		}
	}
	return nil
}

func parseSFENHands(hand string, p *Position) error {
	if hand == "-" {
		return nil
	}
	count := 0
	for i := 0; i < len(hand); i++ {
		ch := hand[i]
		if ch >= '0' && ch <= '9' {
			count = count*10 + int(ch-'0')
			continue
		}
		if count == 0 {
			count = 1
		}
		color := Black
		if ch >= 'a' && ch <= 'z' {
			color = White
			ch -= 'a' - 'A'
		}
		t, ok := letterToType[ch]
		if !ok || t == King {
			return fmt.Errorf("unknown hand piece %q", string(ch))
		}
		p.hands[color][t] += count
		count = 0
	}
	if count != 0 {
		return errors.New("trailing hand count")
	}
	return nil
}

// SFEN renders the position in SFEN notation. The move number field
// is 1-based: the number of the move about to be played.
func (p *Position) SFEN() string {
	var rows []string
	for row := 0; row < 9; row++ {
		rows = append(rows, p.rankSFEN(row))
	}
	turn := "b"
	if p.turn == White {
		turn = "w"
	}
	hand := p.handsSFEN()
	if hand == "" {
		hand = "-"
	}
	return fmt.Sprintf("%s %s %s %d", strings.Join(rows, "/"), turn, hand, len(p.moveHistory)+1)
}

func (p *Position) rankSFEN(row int) string {
	var b strings.Builder
	empty := 0
	flush := func() {
		if empty > 0 {
			fmt.Fprintf(&b, "%d", empty)
			empty = 0
		}
	}
	for file := 9; file >= 1; file-- {
		pc := p.board[row][colOf(file)]
		if pc == nil {
			empty++
			continue
		}
		flush()
		text := pc.Type.String() // includes the "+" for promoted types
		if pc.Color == White {
			text = strings.ToLower(text)
		}
		b.WriteString(text)
	}
	flush()
	return b.String()
}

func (p *Position) handsSFEN() string {
	var b strings.Builder
	for _, side := range []Color{Black, White} {
		for _, t := range HandTypes {
			count := p.hands[side][t]
			if count == 0 {
				continue
			}
			if count > 1 {
				fmt.Fprintf(&b, "%d", count)
			}
			letter := t.String()
			if side == White {
				letter = strings.ToLower(letter)
			}
			b.WriteString(letter)
		}
	}
	return b.String()
}
