package negamax

import (
	"math/bits"

	"github.com/dylhunn/dragontoothmg"
)

var pieceValue = [7]int{
	dragontoothmg.Nothing: 0,
	dragontoothmg.Pawn:    100,
	dragontoothmg.Knight:  320,
	dragontoothmg.Bishop:  330,
	dragontoothmg.Rook:    500,
	dragontoothmg.Queen:   900,
	dragontoothmg.King:    0,
}

const (
	center    = uint64(0x0000001818000000)
	extCenter = uint64(0x00003C3C3C3C0000)
)

func rankMask(r int) uint64 {
	return uint64(0xFF) << (8 * r)
}

func count(bb uint64) int {
	return bits.OnesCount64(bb)
}

// side scores one color's material plus small bonuses for central minor
// pieces and advanced pawns. white selects the direction of advancement.
func side(bb *dragontoothmg.Bitboards, white bool) int {
	score := count(bb.Pawns)*pieceValue[dragontoothmg.Pawn] +
		count(bb.Knights)*pieceValue[dragontoothmg.Knight] +
		count(bb.Bishops)*pieceValue[dragontoothmg.Bishop] +
		count(bb.Rooks)*pieceValue[dragontoothmg.Rook] +
		count(bb.Queens)*pieceValue[dragontoothmg.Queen]

	minors := bb.Knights | bb.Bishops
	score += 15*count(minors&center) + 5*count(minors&extCenter)
	score += 10 * count((bb.Pawns|bb.Knights)&center)
	for r := 2; r < 7; r++ {
		rank := r
		if !white {
			rank = 7 - r
		}
		score += (r - 1) * 4 * count(bb.Pawns&rankMask(rank))
	}
	if count(bb.Bishops) >= 2 {
		score += 30
	}
	return score
}

// Evaluate returns a static score from the side to move's point of view.
func Evaluate(b *dragontoothmg.Board) int {
	score := side(&b.White, true) - side(&b.Black, false)
	if !b.Wtomove {
		return -score
	}
	return score
}

// victim returns the value of the piece on the target square, if any.
func victim(b *dragontoothmg.Board, m *dragontoothmg.Move) int {
	opp := &b.Black
	if !b.Wtomove {
		opp = &b.White
	}
	sq := uint64(1) << m.To()
	switch {
	case opp.Pawns&sq != 0:
		return pieceValue[dragontoothmg.Pawn]
	case opp.Knights&sq != 0:
		return pieceValue[dragontoothmg.Knight]
	case opp.Bishops&sq != 0:
		return pieceValue[dragontoothmg.Bishop]
	case opp.Rooks&sq != 0:
		return pieceValue[dragontoothmg.Rook]
	case opp.Queens&sq != 0:
		return pieceValue[dragontoothmg.Queen]
	}
	return 0
}
