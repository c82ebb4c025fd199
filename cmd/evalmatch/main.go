package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"

	"sente/pkg/encode"
	"sente/pkg/nn"
	"sente/pkg/rl"
	"sente/pkg/selfplay"
	"sente/pkg/shogi"
	"sente/pkg/usi"
)

// Plays the current checkpoint against an external USI engine,
// alternating colors, and reports the score.
func main() {
	configPath := flag.String("config", "", "path to config.json (default: search upward from cwd)")
	enginePath := flag.String("engine", "", "path to the USI engine binary")
	games := flag.Int("games", 10, "number of games to play")
	moveTimeMs := flag.Int("movetime", 100, "engine time per move in milliseconds")
	timeout := flag.Duration("timeout", 30*time.Second, "timeout per engine move")
	flag.Parse()

	logger := log.New(os.Stderr, "evalmatch ", log.LstdFlags)

	if *enginePath == "" {
		fatal(fmt.Errorf("-engine is required"))
	}
	if _, err := os.Stat(*enginePath); err != nil {
		fatal(fmt.Errorf("engine binary not found at %s: %w", *enginePath, err))
	}

	cfg := selfplay.DefaultConfig()
	if *configPath != "" {
		loaded, err := selfplay.LoadConfig(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	} else if found, _, err := selfplay.FindConfigPath(); err == nil {
		loaded, err := selfplay.LoadConfig(found)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}

	backend, err := backends.New()
	if err != nil {
		fatal(err)
	}
	agent, err := nn.NewAgent(backend, rl.NewScheduleRegistry(), cfg.Network)
	if err != nil {
		fatal(err)
	}

	ctx := context.Background()
	session, err := usi.StartSession(ctx, *enginePath)
	if err != nil {
		fatal(err)
	}
	defer session.Close()
	if err := session.Handshake(ctx); err != nil {
		fatal(err)
	}

	var wins, losses, draws int
	for g := 0; g < *games; g++ {
		agentIsBlack := g%2 == 0
		winner, reason, plies, finalSFEN, err := playGame(ctx, agent, session, agentIsBlack, cfg.MoveLimit, *moveTimeMs, *timeout)
		if err != nil {
			fatal(err)
		}
		outcome := "draw"
		switch {
		case winner == nil:
			draws++
		case (*winner == shogi.Black) == agentIsBlack:
			wins++
			outcome = "win"
		default:
			losses++
			outcome = "loss"
		}
		side := "sente"
		if !agentIsBlack {
			side = "gote"
		}
		eval := finalEval(ctx, session, finalSFEN, *moveTimeMs, *timeout)
		logger.Printf("game %d/%d: %s as %s in %d plies (%s), final eval %s", g+1, *games, outcome, side, plies, reason, eval)
	}
	fmt.Printf("score vs engine: +%d -%d =%d\n", wins, losses, draws)
}

// finalEval asks the engine to score the final position, from Black's
// point of view. Mate positions may come back without a score; that is
// reported, not fatal.
func finalEval(ctx context.Context, session *usi.Session, sfen string, moveTimeMs int, timeout time.Duration) string {
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	score, _, err := session.Evaluate(evalCtx, sfen, moveTimeMs)
	if err != nil {
		return "n/a"
	}
	return score.String()
}

func playGame(ctx context.Context, agent *nn.Agent, session *usi.Session, agentIsBlack bool, moveLimit, moveTimeMs int, timeout time.Duration) (*shogi.Color, shogi.TerminationReason, int, string, error) {
	if err := session.NewGame(); err != nil {
		return nil, 0, 0, "", err
	}
	p, err := shogi.InitialPosition()
	if err != nil {
		return nil, 0, 0, "", err
	}
	if moveLimit > 0 {
		p.SetMoveLimit(moveLimit)
	}

	var moves []string
	for !p.GameOver() {
		mover := p.Turn()
		agentTurn := (mover == shogi.Black) == agentIsBlack
		var move shogi.Move
		if agentTurn {
			move, err = agentMove(agent, p)
			if err != nil {
				return nil, 0, 0, "", err
			}
		} else {
			moveCtx, cancel := context.WithTimeout(ctx, timeout)
			best, _, err := session.BestMove(moveCtx, moves, moveTimeMs)
			cancel()
			if err != nil {
				return nil, 0, 0, "", err
			}
			if best == "resign" || best == "none" {
				if err := p.Resign(mover); err != nil {
					return nil, 0, 0, "", err
				}
				break
			}
			if best == "win" {
				// Entering-king declaration; concede it.
				if err := p.Resign(mover.Opponent()); err != nil {
					return nil, 0, 0, "", err
				}
				break
			}
			move, err = shogi.ParseUSIMove(best)
			if err != nil {
				return nil, 0, 0, "", fmt.Errorf("engine move %q: %w", best, err)
			}
		}
		if err := p.Apply(move); err != nil {
			return nil, 0, 0, "", fmt.Errorf("apply %s: %w", move, err)
		}
		moves = append(moves, move.USI())
	}
	return p.Winner(), p.Reason(), p.MoveCount(), p.SFEN(), nil
}

func agentMove(agent *nn.Agent, p *shogi.Position) (shogi.Move, error) {
	obs := encode.Observation(p)
	mask, _, err := encode.LegalMask(p)
	if err != nil {
		return shogi.Move{}, err
	}
	actions, _, _, _, err := agent.GetActionAndValue([][]float32{obs}, [][]bool{mask})
	if err != nil {
		return shogi.Move{}, err
	}
	return encode.IndexToMove(actions[0], p.Turn())
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
