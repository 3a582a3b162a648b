package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/hntlabs/walletsync/client"
	"github.com/hntlabs/walletsync/service/view"
	"github.com/hntlabs/walletsync/service/wallet"
)

func balanceCommands() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Wallet balance commands",
		Subcommands: []*cli.Command{
			balanceGetCommand(),
			balanceSyncCommand(),
		},
	}
}

func cliClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func clusterArg(c *cli.Context, i int) (wallet.Cluster, error) {
	return wallet.ParseCluster(c.Args().Get(i))
}

func balanceGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch cached balances for a wallet",
		ArgsUsage: "CLUSTER WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "currency",
				Aliases: []string{"c"},
				Usage:   "Fiat currency for conversion (e.g. usd, eur)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("cluster and wallet address are required")
			}

			cluster, err := clusterArg(c, 0)
			if err != nil {
				return err
			}
			address := c.Args().Get(1)

			fig, err := cliClient(c).GetBalances(context.Background(), cluster, address, c.String("currency"))
			if err != nil {
				return fmt.Errorf("failed to fetch balances: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(fig, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			printFigures(fig)
			return nil
		},
	}
}

func balanceSyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Trigger a full on-chain balance sync for a wallet",
		ArgsUsage: "CLUSTER WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("cluster and wallet address are required")
			}

			cluster, err := clusterArg(c, 0)
			if err != nil {
				return err
			}
			address := c.Args().Get(1)

			fig, err := cliClient(c).Sync(context.Background(), cluster, address)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(fig, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("✓ Sync completed\n")
			printFigures(fig)
			return nil
		},
	}
}

func printFigures(fig *view.Figures) {
	fmt.Printf("Wallet:  %s\n", fig.Address)
	fmt.Printf("Cluster: %s\n", fig.Cluster)
	for _, t := range fig.Tokens {
		line := fmt.Sprintf("  %-20s", t.Formatted)
		if t.HasPrice {
			line += "  " + t.FormattedFiat
		}
		if t.IsEscrow {
			line += "  (escrow)"
		}
		fmt.Println(line)
	}
	if fig.HasTotal {
		fmt.Printf("Total:   %s %s\n", fig.TotalFiat.StringFixed(2), fig.Currency)
	}
	if fig.HasDCPerHNT {
		fmt.Printf("Rate:    %s DC per HNT\n", fig.DCPerHNT.String())
	}
}
