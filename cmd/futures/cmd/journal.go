package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/futures/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trade journal records from the SQLite database.

Subcommands:
  trade  - Get details of a specific trade by ID
  today  - List trades closed today
  day    - List trades closed on a specific day
  pnl    - Total realized PnL for a strategy

Examples:
  futures journal trade <trade-id>
  futures journal today
  futures journal day 2026-08-31
  futures journal pnl trend`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalPnlCmd = &cobra.Command{
	Use:   "pnl <strategy>",
	Short: "Total realized PnL recorded for a strategy",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalPnl,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalPnlCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./futures.sqlite", "path to SQLite journal DB")
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	printTrade(rec)
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	loc := time.Local
	return listDay(time.Now().In(loc).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return listDay(args[0])
}

func runJournalPnl(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	total, err := j.TotalRealizedPL(args[0])
	if err != nil {
		return fmt.Errorf("query pnl: %w", err)
	}

	fmt.Printf("%s realized PnL: %.4f\n", args[0], total)
	return nil
}

func listDay(day string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	if len(recs) == 0 {
		fmt.Println("no trades")
		return nil
	}
	var total float64
	for _, rec := range recs {
		printTrade(rec)
		total += rec.RealizedPL
	}
	fmt.Printf("%d trades, total PnL %.4f\n", len(recs), total)
	return nil
}

func printTrade(rec journal.TradeRecord) {
	fmt.Printf("%s  %-6s %-10s %-4s qty=%.6f entry=%.4f exit=%.4f pnl=%.4f %s  closed %s\n",
		rec.TradeID, rec.Strategy, rec.Symbol, rec.Side,
		rec.Quantity, rec.EntryPrice, rec.ExitPrice, rec.RealizedPL, rec.Reason,
		rec.CloseTime.Format(time.RFC3339))
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.Add(24 * time.Hour)
	return start, end, nil
}
