package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/atrex/options_exec_engine/internal/domain"
	"github.com/atrex/options_exec_engine/internal/infrastructure/broker"
)

// One-shot connectivity probe: submits and cancels a resting stop order far
// from the market against the paper broker, or prints what the live broker
// answers for a status query.
func main() {
	if len(os.Args) < 2 || os.Args[1] == "paper" {
		checkPaper()
		return
	}

	if len(os.Args) < 4 {
		fmt.Println("usage: check_broker paper | check_broker <base_url> <api_key> <api_secret>")
		os.Exit(1)
	}

	b := broker.NewRESTBroker(os.Args[2], os.Args[3], os.Args[1], 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := b.QueryStatus(ctx, "probe-nonexistent")
	fmt.Printf("Status query answered: %v\n", err)
}

func checkPaper() {
	b := broker.NewPaperBroker()
	ctx := context.Background()

	id, err := b.SubmitOrder(ctx, domain.OrderSpec{
		Symbol:   "TEST",
		Side:     domain.SideStopSell,
		Quantity: 1,
		Price:    1.0,
	})
	if err != nil {
		fmt.Printf("Submit failed: %v\n", err)
		os.Exit(1)
	}

	status, err := b.QueryStatus(ctx, id)
	fmt.Printf("Order %s status %s (err %v)\n", id, status, err)

	if err := b.CancelOrder(ctx, id); err != nil {
		fmt.Printf("Cancel failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Paper broker OK")
}
