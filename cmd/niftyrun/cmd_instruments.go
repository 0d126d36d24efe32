package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/niftyrun/internal/instruments"
)

func newInstrumentsCmd() *cobra.Command {
	var weekday string
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "List supported indices with lot sizes and the next weekly expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := instruments.ParseWeekday(weekday)
			if err != nil {
				return err
			}
			expiry := instruments.NextWeeklyExpiry(time.Now(), wd)

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SYMBOL\tROOT\tLOT\tSTEP\tEXPIRY\tATM CE EXAMPLE")
			for _, sym := range instruments.Symbols() {
				inst, err := instruments.Get(sym)
				if err != nil {
					return err
				}
				example, err := instruments.TradingSymbol(sym, expiry, inst.StrikeStep*500, "CE")
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
					inst.Symbol, inst.Root, inst.LotSize, inst.StrikeStep, expiry.Format("2006-01-02"), example)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&weekday, "expiry-weekday", "TUESDAY", "Weekly expiry weekday")
	return cmd
}
