// Package commands implements the ecotaskctl operator commands.
package commands

import (
	"context"
	"io"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/nadmax/ecotask/internal/project"
	"github.com/spf13/cobra"
)

// Backend is the storage-backed part of the CLI.
type Backend interface {
	RecalculateProject(ctx context.Context, projectID string) (*project.Project, accounting.Recalculation, error)
	RecalculateAll(ctx context.Context) (accounting.SweepResult, error)
	VerifyProject(ctx context.Context, projectID string) (accounting.Recalculation, error)
	Migrate(ctx context.Context) error
}

// Opener connects the backend. It is only called by commands that need storage.
type Opener func(ctx context.Context) (Backend, func(), error)

type CLI struct {
	calc    *co2.Calculator
	open    Opener
	rootCmd *cobra.Command
}

func New(calc *co2.Calculator, open Opener) *CLI {
	rootCmd := &cobra.Command{
		Use:           "ecotaskctl",
		Short:         "Operate the EcoTask emission accounting backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	c := &CLI{
		calc:    calc,
		open:    open,
		rootCmd: rootCmd,
	}

	rootCmd.AddCommand(c.newEstimateCmd())
	rootCmd.AddCommand(c.newRecalculateCmd())
	rootCmd.AddCommand(c.newCheckCmd())
	rootCmd.AddCommand(c.newMigrateCmd())

	return c
}

func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// withBackend opens the backend for the duration of fn.
func (c *CLI) withBackend(ctx context.Context, fn func(Backend) error) error {
	b, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	return fn(b)
}
