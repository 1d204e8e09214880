package main

import (
	"context"
	"fmt"
	"os"

	"github.com/atrex/options_exec_engine/internal/infrastructure/storage"
)

func main() {
	store, err := storage.NewSQLiteStore("engine.db")
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	trades, err := store.ListClosedTrades(ctx, 50)
	if err != nil {
		fmt.Printf("Failed to list closed trades: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d closed trades:\n", len(trades))
	for _, t := range trades {
		fmt.Printf("- %s %s %s x%d entry %.2f exit %.2f pnl %.2f reason %s (%s)\n",
			t.ExitTime.Format("2006-01-02 15:04:05"), t.Symbol, t.Direction,
			t.Quantity, t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.Reason, t.Detail)
	}

	events, err := store.ListTradeEvents(ctx, 50)
	if err != nil {
		fmt.Printf("Failed to list trade events: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nLast %d events:\n", len(events))
	for _, e := range events {
		fmt.Printf("- %s [%s] %s %s\n",
			e.CreatedAt.Format("15:04:05"), e.Kind, e.TradeID, e.Detail)
	}
}
