// Package main is the entry point for ecotaskctl, the EcoTask operator CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nadmax/ecotask/cmd/ecotaskctl/commands"
	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/config"
	"github.com/nadmax/ecotask/internal/repository/postgres"
	"github.com/rs/zerolog/log"
)

// backend pairs the accounting service with the store it runs on.
type backend struct {
	*accounting.Service
	store *postgres.Store
}

func (b backend) Migrate(ctx context.Context) error {
	return b.store.Migrate(ctx)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv("ECOTASK_CONFIG"))
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return 1
	}
	config.InitLogger(cfg.Logging.Level, "console")

	rates, err := cfg.RateTable()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return 1
	}
	calc := co2.NewCalculator(rates)

	open := func(ctx context.Context) (commands.Backend, func(), error) {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}

		store, err := postgres.NewStore(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Postgres store")
			}
		}

		return backend{Service: accounting.NewService(store, calc), store: store}, closeFn, nil
	}

	cli := commands.New(calc, open)
	cli.SetArgs(args)
	cli.SetOutput(stdout, stderr)

	if err := cli.Execute(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: "+err.Error())
		return 1
	}

	return 0
}
