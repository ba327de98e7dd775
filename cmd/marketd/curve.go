package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/curvemarket/internal/curve"
)

func newCurveCmd(c *cli) *cobra.Command {
	var steps uint64

	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Print price and cumulative cost along the supply axis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCurve(cmd, steps)
		},
	}
	cmd.Flags().Uint64Var(&steps, "steps", 8, "rows between zero and the primary supply")
	return cmd
}

func (c *cli) runCurve(cmd *cobra.Command, steps uint64) error {
	if steps == 0 {
		return fmt.Errorf("--steps must be positive")
	}
	pricer, err := c.curve()
	if err != nil {
		return err
	}
	params, err := c.cfg.MarketParams()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
	defer w.Flush()
	fmt.Fprintln(w, "supply\tprice (eth)\tcost from zero (eth)\t")

	step := new(uint256.Int).Div(params.PrimarySupply, uint256.NewInt(steps))
	zero := new(uint256.Int)
	for i := uint64(0); i <= steps; i++ {
		supply := new(uint256.Int).Mul(step, uint256.NewInt(i))
		if i == steps {
			supply = params.PrimarySupply.Clone()
		}
		price, err := pricer.GetCurrentPrice(supply)
		if err != nil {
			return err
		}
		cost, err := pricer.GetTokenBuyQuote(zero, supply)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t\n",
			curve.ToEther(supply).StringFixed(0),
			curve.ToEther(price).StringFixed(12),
			curve.ToEther(cost).StringFixed(6))
	}
	return nil
}
