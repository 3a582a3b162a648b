package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

func ratesCommand() *cli.Command {
	return &cli.Command{
		Name:  "rates",
		Usage: "Show the current HNT to data-credit conversion rate",
		Action: func(c *cli.Context) error {
			rates, err := cliClient(c).GetRates(context.Background())
			if err != nil {
				return fmt.Errorf("failed to fetch rates: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(rates, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("DC per HNT: %s\n", rates.DCPerHNT.String())
			fmt.Printf("  EMA price:      %d\n", rates.EmaPrice)
			fmt.Printf("  EMA confidence: %d\n", rates.EmaConfidence)
			fmt.Printf("  Exponent:       %d\n", rates.Exponent)
			return nil
		},
	}
}
