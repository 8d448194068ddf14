// Command teeprover runs the TEE-attested batch prover node.
//
// Usage:
//
//	teeprover [flags]
//
// Flags:
//
//	--chainid          L2 chain id (default: 59144)
//	--bernoulli-block  Height activating the V1 batch codec (default: 0)
//	--curie-block      Height activating the V2 batch codec (default: 0)
//	--verbosity        Log level 0-4 (default: 2)
//	--version          Print version and exit
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teeprover/teeprover/batch"
	"github.com/teeprover/teeprover/executor"
	"github.com/teeprover/teeprover/log"
	"github.com/teeprover/teeprover/prover"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

type config struct {
	chainID        uint64
	bernoulliBlock uint64
	curieBlock     uint64
	verbosity      int
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	var cfg config
	var showVersion bool
	fs := flag.NewFlagSet("teeprover", flag.ContinueOnError)
	fs.Uint64Var(&cfg.chainID, "chainid", 59144, "L2 chain id")
	fs.Uint64Var(&cfg.bernoulliBlock, "bernoulli-block", 0, "height activating the V1 batch codec")
	fs.Uint64Var(&cfg.curieBlock, "curie-block", 0, "height activating the V2 batch codec")
	fs.IntVar(&cfg.verbosity, "verbosity", 2, "log level 0-4")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if showVersion {
		fmt.Printf("teeprover %s (%s)\n", version, commit)
		return 0
	}

	log.SetDefault(log.New(verbosityToLevel(cfg.verbosity)))
	logger := log.Module("main")

	fork := batch.HardforkConfig{
		BernoulliBlock: cfg.bernoulliBlock,
		CurieBlock:     cfg.curieBlock,
	}
	p, err := prover.NewProver(fork, func(db executor.DatabaseRef) executor.EVM {
		// The EVM binding is provided by the enclave build; the open core
		// has no interpreter of its own.
		return nil
	})
	if err != nil {
		logger.Error("prover init failed", "err", err)
		return 1
	}
	logger.Info("prover started",
		"version", version, "chainid", cfg.chainID,
		"prover", p.Key().Address().Hex())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	return 0
}

func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError
	case v == 1:
		return slog.LevelWarn
	case v == 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
