package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iho/botledger/internal/adapter/http/dto"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

func (c *cli) lotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lots",
		Short: "Lot engine operations",
	}
	cmd.AddCommand(c.lotsListCmd(), c.lotsOpenCmd(), c.lotsCloseCmd())
	return cmd
}

func (c *cli) lotsListCmd() *cobra.Command {
	var symbol, side string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open lots of a symbol in allocation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := domain.ParsePositionSide(side)
			if err != nil {
				return err
			}

			return c.withBackend(cmd, nil, func(b *backend) error {
				lots, err := b.Lots.ListOpenLots(cmd.Context(), strings.ToUpper(symbol), ps)
				if err != nil {
					return err
				}
				return c.printJSON(dto.LotsFromDomain(lots))
			})
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Instrument symbol")
	cmd.Flags().StringVar(&side, "side", string(domain.PositionLong), "long or short")
	cmd.MarkFlagRequired("symbol")
	return cmd
}

type lotFlags struct {
	symbol, side, tradeID, at string
	qty, price, fees          string
}

func (f *lotFlags) bind(cmd *cobra.Command, priceName, priceUsage string) {
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Instrument symbol")
	cmd.Flags().StringVar(&f.side, "side", string(domain.PositionLong), "long or short")
	cmd.Flags().StringVar(&f.tradeID, "trade-id", "", "Broker trade id")
	cmd.Flags().StringVar(&f.at, "at", "", "Trade time (default now)")
	cmd.Flags().StringVar(&f.qty, "qty", "", "Quantity")
	cmd.Flags().StringVar(&f.price, priceName, "", priceUsage)
	cmd.Flags().StringVar(&f.fees, "fees", "0", "Fees")
	for _, name := range []string{"symbol", "trade-id", "qty", priceName} {
		cmd.MarkFlagRequired(name)
	}
}

type parsedLot struct {
	at    time.Time
	side  domain.PositionSide
	qty   decimal.Decimal
	price decimal.Decimal
	fees  decimal.Decimal
}

func (f *lotFlags) parse() (parsedLot, error) {
	var p parsedLot
	var err error

	if p.side, err = domain.ParsePositionSide(f.side); err != nil {
		return p, err
	}
	if p.qty, err = decimal.NewFromString(f.qty); err != nil {
		return p, fmt.Errorf("invalid qty %q: %w", f.qty, err)
	}
	if p.price, err = decimal.NewFromString(f.price); err != nil {
		return p, fmt.Errorf("invalid price %q: %w", f.price, err)
	}
	if p.fees, err = decimal.NewFromString(f.fees); err != nil {
		return p, fmt.Errorf("invalid fees %q: %w", f.fees, err)
	}

	p.at = time.Now().UTC()
	if at, err := optionalTime(f.at); err != nil {
		return p, err
	} else if at != nil {
		p.at = *at
	}
	return p, nil
}

func (c *cli) lotsOpenCmd() *cobra.Command {
	var f lotFlags

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Record a lot opened outside a sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.parse()
			if err != nil {
				return err
			}

			input := usecase.OpenLotInput{
				OpenedAt: p.at,
				Symbol:   strings.ToUpper(f.symbol),
				Side:     p.side,
				TradeID:  f.tradeID,
				Actor:    c.actor,
				Qty:      p.qty,
				UnitCost: p.price,
				Fees:     p.fees,
			}

			return c.withBackend(cmd, nil, func(b *backend) error {
				id, err := b.Lots.RecordOpen(cmd.Context(), input)
				if err != nil {
					return err
				}
				return c.printJSON(map[string]string{"id": id})
			})
		},
	}

	f.bind(cmd, "unit-cost", "Cost per unit")
	return cmd
}

func (c *cli) lotsCloseCmd() *cobra.Command {
	var f lotFlags

	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close quantity against open lots with the configured policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.parse()
			if err != nil {
				return err
			}

			input := usecase.CloseInput{
				ClosedAt:      p.at,
				Symbol:        strings.ToUpper(f.symbol),
				Side:          p.side,
				CloseTradeID:  f.tradeID,
				Actor:         c.actor,
				Qty:           p.qty,
				ProceedsTotal: p.price,
				CloseFees:     p.fees,
			}

			return c.withBackend(cmd, nil, func(b *backend) error {
				summary, err := b.Lots.Close(cmd.Context(), input)
				if err != nil {
					return err
				}
				return c.printJSON(dto.CloseSummaryFromDomain(summary))
			})
		},
	}

	f.bind(cmd, "proceeds", "Total proceeds of the close")
	return cmd
}
