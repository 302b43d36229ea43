package commands

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nadmax/ecotask/internal/co2"
	"github.com/spf13/cobra"
)

func (c *CLI) newEstimateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <type> <hours>",
		Short: "Compute the emissions of a task without storing it",
		Example: `  ecotaskctl estimate INTENSIVE 12
  ecotaskctl estimate light 0.5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := co2.ParseCategory(strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			hours, err := strconv.ParseFloat(args[1], 64)
			if err != nil || math.IsNaN(hours) || math.IsInf(hours, 0) {
				return fmt.Errorf("%w: %q", co2.ErrInvalidDuration, args[1])
			}

			emissions, err := c.calc.Compute(category, hours)
			if err != nil {
				return err
			}

			rate, err := c.calc.Rates().Rate(category)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %g h at %g kg/h = %s (%s)\n",
				category, hours, rate, co2.Humanize(emissions), co2.Classify(emissions))
			return err
		},
	}
}
