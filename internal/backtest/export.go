package backtest

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"quantbt/internal/analytics"
)

var tradeCSVHeader = []string{
	"symbol", "quantity",
	"signal_price", "signal_date", "fill_price", "fill_date", "commission",
	"exit_signal_price", "exit_fill_price", "exit_date", "exit_commission",
	"pnl", "pnl_percent", "holding_days",
}

// WriteTradesCSV 按开平仓导出交易明细；未平仓的出场列留空。
func WriteTradesCSV(w io.Writer, trips []analytics.RoundTrip) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeCSVHeader); err != nil {
		return err
	}
	for _, t := range trips {
		row := []string{
			t.Symbol,
			strconv.FormatInt(t.Quantity, 10),
			formatFloat(t.EntrySignalPrice),
			formatTime(t.EntrySignalTime),
			formatFloat(t.EntryPrice),
			formatTime(t.EntryTime),
			formatFloat(t.EntryCommission),
			"", "", "", "", "", "",
			strconv.Itoa(t.HoldingDays),
		}
		if t.Closed() {
			row[7] = formatFloat(t.ExitSignalPrice)
			row[8] = formatFloat(t.ExitPrice)
			if t.ExitTime != nil {
				row[9] = formatTime(*t.ExitTime)
			}
			row[10] = formatFloat(t.ExitCommission)
			row[11] = formatFloat(*t.PnL)
			if t.PnLPercent != nil {
				row[12] = formatFloat(*t.PnLPercent)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
