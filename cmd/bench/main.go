package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"sente/pkg/encode"
	"sente/pkg/shogi"
)

// Measures move generation, apply/undo, and observation encoding
// throughput over random playouts.
func main() {
	games := flag.Int("games", 20, "number of random playouts")
	plies := flag.Int("plies", 200, "maximum plies per playout")
	seed := flag.Int64("seed", 1, "rng seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	var moveGens, moves, encodes int
	var genTime, applyTime, encodeTime time.Duration
	for g := 0; g < *games; g++ {
		p, err := shogi.InitialPosition()
		if err != nil {
			fatal(err)
		}
		p.SetMoveLimit(*plies)
		for !p.GameOver() {
			start := time.Now()
			legal, err := p.LegalMoves(p.Turn())
			if err != nil {
				fatal(err)
			}
			genTime += time.Since(start)
			moveGens++
			if len(legal) == 0 {
				break
			}

			start = time.Now()
			encode.Observation(p)
			encodeTime += time.Since(start)
			encodes++

			m := legal[rng.Intn(len(legal))]
			start = time.Now()
			if err := p.Apply(m); err != nil {
				fatal(err)
			}
			applyTime += time.Since(start)
			moves++
		}
	}

	fmt.Printf("playouts: %d, positions: %d\n", *games, moveGens)
	report("legal movegen", moveGens, genTime)
	report("apply", moves, applyTime)
	report("encode", encodes, encodeTime)
}

func report(name string, n int, d time.Duration) {
	if n == 0 || d == 0 {
		return
	}
	perSec := float64(n) / d.Seconds()
	fmt.Printf("%-14s %8d ops in %10s (%.0f/s, %s/op)\n", name, n, d.Round(time.Millisecond), perSec, (d / time.Duration(n)).Round(time.Microsecond))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
