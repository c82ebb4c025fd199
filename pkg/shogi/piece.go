package shogi

import "fmt"

// Color identifies a player. Black (sente) moves first and moves
// toward row 0; White (gote) moves toward row 8.
type Color int

const (
	Black Color = iota
	White
)

func (c Color) Opponent() Color {
	if c == Black {
		return White
	}
	return Black
}

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// PieceType enumerates the 14 piece kinds: 8 base types plus the 6
// promoted forms (gold and king do not promote).
type PieceType int

const (
	Pawn PieceType = iota
	Lance
	Knight
	Silver
	Gold
	Bishop
	Rook
	King
	PromotedPawn
	PromotedLance
	PromotedKnight
	PromotedSilver
	Horse  // promoted bishop
	Dragon // promoted rook
	numPieceTypes
)

var promoteTable = map[PieceType]PieceType{
	Pawn:   PromotedPawn,
	Lance:  PromotedLance,
	Knight: PromotedKnight,
	Silver: PromotedSilver,
	Bishop: Horse,
	Rook:   Dragon,
}

var demoteTable = map[PieceType]PieceType{
	PromotedPawn:   Pawn,
	PromotedLance:  Lance,
	PromotedKnight: Knight,
	PromotedSilver: Silver,
	Horse:          Bishop,
	Dragon:         Rook,
}

// CanPromote reports whether the type has a promoted form.
func (t PieceType) CanPromote() bool {
	_, ok := promoteTable[t]
	return ok
}

// IsPromoted reports whether the type is a promoted form.
func (t PieceType) IsPromoted() bool {
	_, ok := demoteTable[t]
	return ok
}

// Promoted returns the promoted form of t; t itself if none exists.
func (t PieceType) Promoted() PieceType {
	if pt, ok := promoteTable[t]; ok {
		return pt
	}
	return t
}

// Demoted returns the unpromoted base form of t.
func (t PieceType) Demoted() PieceType {
	if bt, ok := demoteTable[t]; ok {
		return bt
	}
	return t
}

var pieceLetters = map[PieceType]string{
	Pawn:           "P",
	Lance:          "L",
	Knight:         "N",
	Silver:         "S",
	Gold:           "G",
	Bishop:         "B",
	Rook:           "R",
	King:           "K",
	PromotedPawn:   "+P",
	PromotedLance:  "+L",
	PromotedKnight: "+N",
	PromotedSilver: "+S",
	Horse:          "+B",
	Dragon:         "+R",
}

func (t PieceType) String() string {
	if s, ok := pieceLetters[t]; ok {
		return s
	}
	return fmt.Sprintf("PieceType(%d)", int(t))
}

// letterToType maps an SFEN/USI letter to its unpromoted piece type.
var letterToType = map[byte]PieceType{
	'P': Pawn,
	'L': Lance,
	'N': Knight,
	'S': Silver,
	'G': Gold,
	'B': Bishop,
	'R': Rook,
	'K': King,
}

// HandTypes lists the droppable piece types in conventional SFEN hand
// order (rook first, pawn last).
var HandTypes = []PieceType{Rook, Bishop, Gold, Silver, Knight, Lance, Pawn}

// DropTypes lists the droppable piece types in action-space order.
var DropTypes = []PieceType{Pawn, Lance, Knight, Silver, Gold, Bishop, Rook}

// Supply returns the fixed number of pieces of the given base type in
// a standard set, counting both players.
func Supply(t PieceType) int {
	switch t.Demoted() {
	case Pawn:
		return 18
	case Lance, Knight, Silver, Gold:
		return 4
	case Bishop, Rook, King:
		return 2
	}
	return 0
}

// Piece is an immutable piece value. Promoted is derivable from Type
// but cached for O(1) checks; NewPiece keeps the two in agreement.
type Piece struct {
	Type     PieceType
	Color    Color
	Promoted bool
}

func NewPiece(t PieceType, c Color) Piece {
	return Piece{Type: t, Color: c, Promoted: t.IsPromoted()}
}

func (p Piece) String() string {
	s := p.Type.String()
	if p.Color == White {
		return "w" + s
	}
	return "b" + s
}
