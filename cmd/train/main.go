package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"

	"sente/pkg/nn"
	"sente/pkg/rl"
	"sente/pkg/selfplay"
)

func main() {
	configPath := flag.String("config", "", "path to config.json (default: search upward from cwd)")
	epochs := flag.Int("epochs", 0, "override configured epoch count")
	flag.Parse()

	logger := log.New(os.Stderr, "train ", log.LstdFlags)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *epochs > 0 {
		cfg.Epochs = *epochs
	}

	backend, err := backends.New()
	if err != nil {
		fatal(err)
	}
	agent, err := nn.NewAgent(backend, rl.NewScheduleRegistry(), cfg.Network)
	if err != nil {
		fatal(err)
	}
	trainer, err := selfplay.NewTrainer(cfg, agent, logger)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trainer.Run(ctx); err != nil {
		fatal(err)
	}
	logger.Printf("finished after %d epochs, %d optimizer steps", trainer.Epoch(), agent.Steps())
}

func loadConfig(path string) (selfplay.Config, error) {
	if path == "" {
		found, _, err := selfplay.FindConfigPath()
		if err != nil {
			return selfplay.DefaultConfig(), nil
		}
		path = found
	}
	return selfplay.LoadConfig(path)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
