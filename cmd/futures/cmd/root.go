package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "futures",
	Short: "A live trading engine for Binance USD-M futures",
	Long: `Futures is a live trading engine for a single Binance USD-M futures symbol.

It provides:
  - A trend-following engine (moving-average crossover with resident
    stop-loss and trailing-stop management)
  - A passive market-maker engine (two-sided quoting with chase logic)
  - Slot-locked order coordination against the exchange
  - Closed-trade journaling to CSV or SQLite
  - An optional crash-friendly state mirror and prometheus metrics`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
