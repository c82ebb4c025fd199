package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"

	"sente/pkg/nn"
	"sente/pkg/rl"
	"sente/pkg/selfplay"
)

// Plays games with the current checkpoint without updating it, and
// writes the game records for inspection.
func main() {
	configPath := flag.String("config", "", "path to config.json (default: search upward from cwd)")
	games := flag.Int("games", 10, "number of games to play")
	outputPath := flag.String("output", "selfplay.parquet", "output parquet file")
	kifDir := flag.String("kif-dir", "", "also export each game as KIF into this directory")
	flag.Parse()

	logger := log.New(os.Stderr, "selfplay ", log.LstdFlags)

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

	// writerDone is closed when the record writer exits, so a write
	// failure surfaces instead of blocking the send below.
	records := make(chan selfplay.GameRecord, 16)
	writerDone := make(chan struct{})
	var writeErr error
	go func() {
		writeErr = selfplay.WriteRecords(*outputPath, records, 4)
		close(writerDone)
	}()

	for i := 0; i < *games; i++ {
		ep, err := selfplay.PlayEpisode(agent, cfg.MoveLimit)
		if err != nil {
			fatal(err)
		}
		select {
		case records <- selfplay.RecordFromEpisode(ep, 0):
		case <-writerDone:
			fatal(fmt.Errorf("record writer stopped: %v", writeErr))
		}
		if *kifDir != "" {
			if _, err := selfplay.SaveKIF(*kifDir, ep); err != nil {
				logger.Printf("save kif for %s: %v", ep.ID, err)
			}
		}
		result := "draw"
		if ep.Winner != nil {
			result = ep.Winner.String()
		}
		logger.Printf("game %d/%d: %s in %d plies (%s)", i+1, *games, result, ep.Length(), ep.Reason)
	}
	close(records)
	<-writerDone
	if writeErr != nil {
		fatal(writeErr)
	}
	logger.Printf("wrote %d games to %s", *games, *outputPath)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
