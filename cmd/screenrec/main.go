// Package main is the screenrec command line: account login, library management and a live
// view of the agent's session events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/screenrec/config"
)

const usage = `usage: screenrec <command> [flags] [args]

commands:
  login     [-email e] [-password p] [-remember]   log in to the recordings store
  signup    [-email e] [-username u]                create an account
  demo                                              start a guest session
  logout                                            forget the stored session
  whoami                                            show the stored session
  list      [-json]                                 list the library
  search    <query>                                 filter the library by name
  rename    <id> <name>                             rename a stored recording
  delete    <id>                                    delete a stored recording
  share     <id>                                    print a recording's share link
  strength  [password]                              score a password
  watch                                             stream session events from Redis
`

func main() {
	logger := newLogger()
	defer logger.Sync()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, os.Stdin, os.Stdout, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger logs warnings and above to stderr so command output stays clean.
func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, _ := config.Build()
	return logger
}
