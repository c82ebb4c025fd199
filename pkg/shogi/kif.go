package shogi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// KIF game-record support: export of played games in standard KIF
// move notation, and import of KIF files (UTF-8 or Shift-JIS).

var kifMoveLineRe = regexp.MustCompile(`^\s*(\d+)\s+(.+?)\s*(\(|$)`)
var kifFromSquareRe = regexp.MustCompile(`\((\d)(\d)\)`)

var fullWidthDigits = []rune("０１２３４５６７８９")
var rankKanji = []rune("一二三四五六七八九")

var kifPieceNames = map[PieceType]string{
	Pawn:           "歩",
	Lance:          "香",
	Knight:         "桂",
	Silver:         "銀",
	Gold:           "金",
	Bishop:         "角",
	Rook:           "飛",
	King:           "玉",
	PromotedPawn:   "と",
	PromotedLance:  "成香",
	PromotedKnight: "成桂",
	PromotedSilver: "成銀",
	Horse:          "馬",
	Dragon:         "龍",
}

var kifTerminalTokens = map[TerminationReason]string{
	Checkmate:      "詰み",
	Stalemate:      "詰み",
	Resignation:    "投了",
	RepetitionDraw: "千日手",
	MaxMovesDraw:   "持将棋",
}

// KIFHeaders carries the optional header fields of a KIF export.
type KIFHeaders struct {
	SenteName string
	GoteName  string
	Event     string
}

// WriteKIF renders the game held by p as a KIF record. The initial
// position is reconstructed by undoing the full move history on a
// clone, so the exported start reflects the actual game-start board
// and hands rather than the mutated end state.
func WriteKIF(w io.Writer, p *Position, headers KIFHeaders) error {
	initial := p.Clone()
	moves := initial.Moves()
	for i := len(moves) - 1; i >= 0; i-- {
		if err := initial.Undo(); err != nil {
			return fmt.Errorf("reconstruct initial position: %w", err)
		}
	}

	if headers.Event != "" {
		fmt.Fprintf(w, "棋戦：%s\n", headers.Event)
	}
	if initialSFENBoard(initial) == initialSFENBoard(mustStartPosition()) {
		fmt.Fprintln(w, "手合割：平手")
	} else {
		fmt.Fprintf(w, "*開始局面 sfen %s\n", initial.SFEN())
	}
	if headers.SenteName != "" {
		fmt.Fprintf(w, "先手：%s\n", headers.SenteName)
	}
	if headers.GoteName != "" {
		fmt.Fprintf(w, "後手：%s\n", headers.GoteName)
	}
	fmt.Fprintln(w, "手数----指手---------消費時間--")

	replay := initial
	var prevTo *[2]int
	for i, m := range moves {
		token, err := kifMoveToken(replay, m, prevTo)
		if err != nil {
			return fmt.Errorf("move %d: %w", i+1, err)
		}
		fmt.Fprintf(w, "%4d %s\n", i+1, token)
		if err := replay.Apply(m); err != nil {
			return fmt.Errorf("replay move %d (%s): %w", i+1, m, err)
		}
		to := [2]int{m.ToRow, m.ToCol}
		prevTo = &to
	}
	if p.GameOver() {
		if token, ok := kifTerminalTokens[p.Reason()]; ok {
			fmt.Fprintf(w, "%4d %s\n", len(moves)+1, token)
		}
	}
	return nil
}

func mustStartPosition() *Position {
	p, err := ParseSFEN(StartSFEN)
	if err != nil {
		panic("invalid StartSFEN: " + err.Error())
	}
	return p
}

func initialSFENBoard(p *Position) string {
	return strings.Fields(p.SFEN())[0]
}

// kifMoveToken renders one move in KIF notation against the position
// it is played from.
func kifMoveToken(p *Position, m Move, prevTo *[2]int) (string, error) {
	var b strings.Builder
	if prevTo != nil && prevTo[0] == m.ToRow && prevTo[1] == m.ToCol {
		b.WriteString("同　")
	} else {
		b.WriteRune(fullWidthDigits[fileOf(m.ToCol)])
		b.WriteRune(rankKanji[m.ToRow])
	}
	if m.Drop {
		name, ok := kifPieceNames[m.Piece]
		if !ok {
			return "", fmt.Errorf("no KIF name for %s", m.Piece)
		}
		b.WriteString(name)
		b.WriteString("打")
		return b.String(), nil
	}
	pc, ok := p.PieceAt(m.FromRow, m.FromCol)
	if !ok {
		return "", fmt.Errorf("no piece on source square of %s", m)
	}
	name, found := kifPieceNames[pc.Type]
	if !found {
		return "", fmt.Errorf("no KIF name for %s", pc.Type)
	}
	b.WriteString(name)
	if m.Promote {
		b.WriteString("成")
	}
	fmt.Fprintf(&b, "(%d%d)", fileOf(m.FromCol), m.FromRow+1)
	return b.String(), nil
}

// LoadKIF reads a KIF file (UTF-8 or Shift-JIS), replays its moves
// from the standard opening, and returns the resulting position.
func LoadKIF(path string) (*Position, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := decodeKIF(data)
	if err != nil {
		return nil, err
	}
	return ParseKIF(strings.Split(text, "\n"))
}

// decodeKIF decodes KIF bytes, transparently handling the Shift-JIS
// encoding most KIF producers still emit.
func decodeKIF(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		data = data[3:]
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	reader := transform.NewReader(bytes.NewReader(data), japanese.ShiftJIS.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("failed to decode Shift-JIS KIF")
	}
	return string(decoded), nil
}

// ParseKIF replays KIF move lines from the standard opening position.
func ParseKIF(lines []string) (*Position, error) {
	p, err := InitialPosition()
	if err != nil {
		return nil, err
	}
	var prevTo *[2]int
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		match := kifMoveLineRe.FindStringSubmatch(line)
		if len(match) == 0 {
			continue
		}
		token := strings.TrimSpace(match[2])
		if token == "" {
			continue
		}
		if isKIFTerminal(token) {
			break
		}
		m, err := parseKIFMoveToken(p, token, line, prevTo)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if err := p.Apply(m); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		to := [2]int{m.ToRow, m.ToCol}
		prevTo = &to
	}
	return p, nil
}

func isKIFTerminal(token string) bool {
	switch token {
	case "投了", "中断", "持将棋", "千日手", "詰み", "切れ負け", "反則勝ち", "反則負け", "入玉勝ち", "勝ち宣言":
		return true
	}
	return false
}

func parseKIFMoveToken(p *Position, token, fullLine string, prevTo *[2]int) (Move, error) {
	work := token
	var toRow, toCol int
	if strings.HasPrefix(work, "同") {
		if prevTo == nil {
			return Move{}, errors.New("same-square move without previous destination")
		}
		toRow, toCol = prevTo[0], prevTo[1]
		work = strings.TrimLeft(strings.TrimPrefix(work, "同"), " 　")
	} else {
		runes := []rune(work)
		if len(runes) < 2 {
			return Move{}, fmt.Errorf("invalid move token %q", token)
		}
		file, ok := parseKIFFileRune(runes[0])
		if !ok {
			return Move{}, fmt.Errorf("invalid destination file in %q", token)
		}
		rank, ok := parseKIFRankRune(runes[1])
		if !ok {
			return Move{}, fmt.Errorf("invalid destination rank in %q", token)
		}
		toRow, toCol = rank-1, colOf(file)
		work = string(runes[2:])
	}

	if strings.Contains(work, "打") {
		t, err := kifPieceType(strings.Replace(work, "打", "", 1))
		if err != nil {
			return Move{}, err
		}
		if t.IsPromoted() {
			return Move{}, errors.New("cannot drop promoted piece")
		}
		return Move{Drop: true, Piece: t, ToRow: toRow, ToCol: toCol}, nil
	}

	noPromote := strings.Contains(work, "不成")
	if noPromote {
		work = strings.Replace(work, "不成", "", 1)
	}
	// Strip a trailing promotion marker; "成香" etc. are piece names,
	// so only a "成" not starting a promoted-piece name counts.
	promote := false
	if strings.HasSuffix(work, "成") && !noPromote {
		trimmed := strings.TrimSuffix(work, "成")
		if _, err := kifPieceType(trimmed); err == nil {
			promote = true
			work = trimmed
		}
	}

	match := kifFromSquareRe.FindStringSubmatch(fullLine)
	if len(match) != 3 {
		return Move{}, fmt.Errorf("missing source square in %q", token)
	}
	fromFile := int(match[1][0] - '0')
	fromRank := int(match[2][0] - '0')
	if fromFile < 1 || fromFile > 9 || fromRank < 1 || fromRank > 9 {
		return Move{}, fmt.Errorf("invalid source square in %q", fullLine)
	}
	if _, err := kifPieceType(work); err != nil {
		return Move{}, err
	}
	return Move{
		FromRow: fromRank - 1, FromCol: colOf(fromFile),
		ToRow: toRow, ToCol: toCol,
		Promote: promote,
	}, nil
}

func kifPieceType(name string) (PieceType, error) {
	name = strings.TrimSpace(name)
	for t, n := range kifPieceNames {
		if n == name {
			return t, nil
		}
	}
	if name == "王" {
		return King, nil
	}
	if name == "竜" {
		return Dragon, nil
	}
	return 0, fmt.Errorf("unknown piece name %q", name)
}

func parseKIFFileRune(r rune) (int, bool) {
	if r >= '1' && r <= '9' {
		return int(r - '0'), true
	}
	if r >= '１' && r <= '９' {
		return int(r-'１') + 1, true
	}
	return 0, false
}

func parseKIFRankRune(r rune) (int, bool) {
	for i, k := range rankKanji {
		if r == k {
			return i + 1, true
		}
	}
	return 0, false
}
