// Command popinf fits the admixture model's variational parameters to a
// biallelic SNP genotype matrix via parallel stochastic variational
// inference: parse flags, load config, build every component, run, report
// the error if any.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ghastn/terastructure/internal/config"
	"github.com/Ghastn/terastructure/internal/engine"
	"github.com/Ghastn/terastructure/internal/genotype"
	"github.com/Ghastn/terastructure/internal/prng"
	"github.com/Ghastn/terastructure/internal/progress"
	"github.com/Ghastn/terastructure/server"
)

var addr = flag.String("addr", ":8080", "address the progress dashboard listens on")

func loadGenotypes(cfg *config.Params) (*genotype.Matrix, error) {
	if cfg.Simulation {
		src := prng.New(cfg.Seed)
		return genotype.NewSynthetic(cfg.N, cfg.L, cfg.K, src), nil
	}

	if cfg.GenotypeFile == "" {
		return nil, fmt.Errorf("popinf: -genotype is required unless simulation is set")
	}
	f, err := os.Open(cfg.GenotypeFile)
	if err != nil {
		return nil, fmt.Errorf("popinf: opening genotype file: %w", err)
	}
	defer f.Close()
	return genotype.LoadTSV(f, true)
}

func run() error {
	fs := flag.CommandLine
	flags := config.RegisterFlags(fs)
	flag.Parse()

	var cfg *config.Params
	var err error
	if *flags.ConfigPath != "" {
		cfg, err = config.FromYaml(*flags.ConfigPath)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return fmt.Errorf("popinf: loading config: %w", err)
	}
	flags.Apply(cfg)

	geno, err := loadGenotypes(cfg)
	if err != nil {
		return err
	}
	if !cfg.Simulation {
		cfg.N, cfg.L = geno.N(), geno.L()
	}

	start := time.Now()
	eng, err := engine.New(cfg, geno, start)
	if err != nil {
		return fmt.Errorf("popinf: building engine: %w", err)
	}
	eng.Terminate = func() bool { return *flags.Terminate }

	bcast := progress.NewBroadcaster()
	eng.OnSnapshot = bcast.OnSnapshot
	srv := server.NewServer(*addr, bcast, eng.Shared())
	go func() {
		if err := srv.Serve(); err != nil {
			log.Println("popinf: progress server:", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return eng.Run(ctx)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
