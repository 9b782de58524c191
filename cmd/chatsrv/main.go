// Command chatsrv runs the group-chat relay server.
//
// Configuration comes from the environment (CHATSRV_* variables, optionally
// via a .env file) with flag overrides:
//
//	chatsrv -addr :7667 -max-sessions 64 -log-level info -log-file chat.log
//
// The server shuts down in an orderly fashion on SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/go-chat-relay/logger"
	"github.com/cyberinferno/go-chat-relay/relay"
)

func main() {
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	var cfg relay.Config
	if err := envconfig.Process("chatsrv", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "chatsrv: bad environment: %v\n", err)
		os.Exit(1)
	}

	addr := flag.String("addr", cfg.Addr, "listen address (host:port)")
	maxSessions := flag.Int("max-sessions", cfg.MaxSessions, "maximum concurrent sessions")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFile := flag.String("log-file", "", "optional log file (in addition to stderr)")
	flag.Parse()

	cfg.Addr = *addr
	cfg.MaxSessions = *maxSessions

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "chatsrv: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatsrv: unknown log level %q\n", *logLevel)
		os.Exit(1)
	}

	log := logger.New("chatsrv", level)
	if *logFile != "" {
		log, err = logger.NewFile("chatsrv", *logFile, level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chatsrv: %v\n", err)
			os.Exit(1)
		}
	}
	defer func() {
		_ = log.Close()
	}()

	srv := relay.NewServer(cfg, log)
	if err := srv.Start(); err != nil {
		log.Error("startup failed", logger.Field{Key: "error", Value: err})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")
	srv.Stop()
}
