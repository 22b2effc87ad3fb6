// Package main provides the lobby server binary. It registers the bundled
// example game and serves the lobby protocol over TCP.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/tabletophq/tabletop/internal/config"
	"github.com/tabletophq/tabletop/internal/game"
	"github.com/tabletophq/tabletop/internal/game/tictactoe"
	"github.com/tabletophq/tabletop/internal/observability"
	"github.com/tabletophq/tabletop/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty = built-in defaults")
	flag.Parse()

	ctx := context.Background()

	var cfg config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	games := game.NewRegistry()
	if err := games.Register(tictactoe.NewFactory()); err != nil {
		logger.Fatal("registering game module", zap.Error(err))
	}
	logger.Info("game modules registered", zap.Int("count", len(games.Descriptors())))

	srv := server.New(games, logger)
	acceptor := server.NewAcceptor(cfg.Listen, srv, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("acceptor", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	logger.Info("lobby server initialized",
		zap.String("addr", cfg.Listen.Addr()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
