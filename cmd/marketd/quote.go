package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/curvemarket/internal/curve"
)

type quoteFlags struct {
	supply string
}

func newQuoteCmd(c *cli) *cobra.Command {
	var qf quoteFlags

	cmd := &cobra.Command{
		Use:   "quote <eth-buy|token-buy|token-sell|eth-sell|price> [amount]",
		Short: "Quote the curve at a given supply",
		Long: `Quote the bonding curve. Amounts and supply are in whole units.

  eth-buy    tokens received for spending <amount> ETH, after the fee
  token-buy  ETH needed to buy <amount> tokens, fee included
  token-sell ETH received for selling <amount> tokens
  eth-sell   tokens to sell to receive <amount> ETH
  price      marginal price at the supply`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runQuote(cmd, qf, args)
		},
	}
	cmd.Flags().StringVar(&qf.supply, "supply", "0", "tokens already sold on the curve")
	return cmd
}

func (c *cli) runQuote(cmd *cobra.Command, qf quoteFlags, args []string) error {
	pricer, err := c.curve()
	if err != nil {
		return err
	}
	params, err := c.cfg.MarketParams()
	if err != nil {
		return err
	}
	supply, err := curve.FromEther(qf.supply)
	if err != nil {
		return fmt.Errorf("invalid --supply: %w", err)
	}

	kind := strings.ToLower(args[0])
	var amount *uint256.Int
	if kind != "price" {
		if len(args) < 2 {
			return fmt.Errorf("%s needs an amount", kind)
		}
		if amount, err = curve.FromEther(args[1]); err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "supply\t%s\n", curve.ToEther(supply))

	switch kind {
	case "price":
		price, err := pricer.GetCurrentPrice(supply)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "price (eth/token)\t%s\n", curve.ToEther(price))
	case "eth-buy":
		fee := feeOf(amount, params.TotalFeeBPS)
		net := new(uint256.Int).Sub(amount, fee)
		tokens, err := pricer.GetEthBuyQuote(supply, net)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "fee (eth)\t%s\n", curve.ToEther(fee))
		fmt.Fprintf(w, "tokens out\t%s\n", curve.ToEther(tokens))
	case "token-buy":
		cost, err := pricer.GetTokenBuyQuote(supply, amount)
		if err != nil {
			return err
		}
		fee := feeOf(cost, params.TotalFeeBPS)
		fmt.Fprintf(w, "curve cost (eth)\t%s\n", curve.ToEther(cost))
		fmt.Fprintf(w, "fee (eth)\t%s\n", curve.ToEther(fee))
		fmt.Fprintf(w, "total (eth)\t%s\n", curve.ToEther(new(uint256.Int).Add(cost, fee)))
	case "token-sell":
		eth, err := pricer.GetTokenSellQuote(supply, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "eth out\t%s\n", curve.ToEther(eth))
	case "eth-sell":
		tokens, err := pricer.GetEthSellQuote(supply, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "tokens in\t%s\n", curve.ToEther(tokens))
	default:
		return fmt.Errorf("unknown quote %q", args[0])
	}
	return nil
}

func (c *cli) curve() (*curve.Curve, error) {
	p, err := c.cfg.CurveParams()
	if err != nil {
		return nil, err
	}
	return curve.New(p)
}

func feeOf(amount *uint256.Int, bps uint64) *uint256.Int {
	fee, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), uint256.NewInt(10_000))
	return fee
}
