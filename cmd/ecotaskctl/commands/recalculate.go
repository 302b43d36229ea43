package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/nadmax/ecotask/internal/accounting"
	"github.com/nadmax/ecotask/internal/co2"
	"github.com/spf13/cobra"
)

// ErrDrift is returned by check when a stored total disagrees with its tasks.
var ErrDrift = errors.New("project totals out of sync")

func (c *CLI) newRecalculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalculate [project-id...]",
		Short: "Recompute stored project totals from their tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			switch {
			case all && len(args) > 0:
				return errors.New("--all cannot be combined with project ids")
			case !all && len(args) == 0:
				return errors.New("pass project ids or --all")
			}

			out := cmd.OutOrStdout()
			return c.withBackend(cmd.Context(), func(b Backend) error {
				if all {
					result, err := b.RecalculateAll(cmd.Context())
					printSweep(out, result)
					return err
				}

				var errs []error
				for _, id := range args {
					_, r, err := b.RecalculateProject(cmd.Context(), id)
					if err != nil {
						errs = append(errs, fmt.Errorf("project %s: %w", id, err))
						continue
					}
					printRecalculation(out, r)
				}
				return errors.Join(errs...)
			})
		},
	}

	cmd.Flags().BoolP("all", "a", false, "Recalculate every project")

	return cmd
}

func (c *CLI) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <project-id>...",
		Short: "Compare stored project totals with their tasks without writing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return c.withBackend(cmd.Context(), func(b Backend) error {
				var errs []error
				drifted := 0
				for _, id := range args {
					r, err := b.VerifyProject(cmd.Context(), id)
					switch {
					case errors.Is(err, accounting.ErrInconsistentTotal):
						drifted++
						_, _ = fmt.Fprintf(out, "DRIFT %s: stored %s, tasks sum to %s\n",
							id, co2.Format(r.Previous), co2.Format(r.Total))
					case err != nil:
						errs = append(errs, fmt.Errorf("project %s: %w", id, err))
					default:
						_, _ = fmt.Fprintf(out, "OK    %s: %s over %d tasks\n", id, co2.Format(r.Total), r.TaskCount)
					}
				}
				if drifted > 0 {
					errs = append(errs, fmt.Errorf("%w: %d of %d projects", ErrDrift, drifted, len(args)))
				}
				return errors.Join(errs...)
			})
		},
	}
}

func (c *CLI) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd.Context(), func(b Backend) error {
				if err := b.Migrate(cmd.Context()); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return err
			})
		},
	}
}

func printRecalculation(out io.Writer, r accounting.Recalculation) {
	state := "unchanged"
	if r.Drifted() {
		state = "repaired"
	}
	_, _ = fmt.Fprintf(out, "%s (%s): %s -> %s over %d tasks, %s\n",
		r.ProjectName, r.ProjectID, co2.Format(r.Previous), co2.Format(r.Total), r.TaskCount, state)
}

func printSweep(out io.Writer, result accounting.SweepResult) {
	for _, r := range result.Repaired {
		printRecalculation(out, r)
	}

	failed := make([]string, 0, len(result.Failed))
	for id := range result.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		_, _ = fmt.Fprintf(out, "FAILED %s: %s\n", id, result.Failed[id])
	}

	_, _ = fmt.Fprintf(out, "swept %d projects: %d repaired, %d failed\n",
		result.Projects, len(result.Repaired), len(result.Failed))
}
