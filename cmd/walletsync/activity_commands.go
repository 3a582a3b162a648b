package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/hntlabs/walletsync/service/activity"
)

func activityCommands() *cli.Command {
	return &cli.Command{
		Name:  "activity",
		Usage: "Wallet activity feed commands",
		Subcommands: []*cli.Command{
			activityListCommand(),
		},
	}
}

func activityListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List activity records for a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "pages",
				Aliases: []string{"p"},
				Value:   1,
				Usage:   "Number of pages to fetch (0 for all)",
			},
			&cli.StringSliceFlag{
				Name:  "filter",
				Usage: "jq expression per record; records where it yields false or null are dropped",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().Get(0)
			pages := c.Int("pages")
			jsonOutput := c.Bool("json")

			filters := c.StringSlice("filter")
			compiled := make([]*gojq.Code, len(filters))
			for i, filter := range filters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiled[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			cl := cliClient(c)
			ctx := context.Background()

			page, err := cl.GetActivity(ctx, address, false)
			if err != nil {
				return fmt.Errorf("failed to fetch activity: %w", err)
			}

			// First page came with the refresh; follow the cursor for the rest.
			for fetched := 1; pages == 0 || fetched < pages; fetched++ {
				if page.Cursor == nil {
					break
				}
				page, err = cl.GetActivity(ctx, address, true)
				if err != nil {
					return fmt.Errorf("failed to fetch next page: %w", err)
				}
			}

			records := page.Records
			if len(compiled) > 0 {
				records = filterRecords(records, compiled)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(records, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			if len(records) == 0 {
				fmt.Println("No activity records found")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("%s  %-24s  %s\n", rec.Timestamp.Format(time.RFC3339), rec.Type, rec.Hash)
				for _, p := range rec.Payments {
					fmt.Printf("    → %s: %d (%s)\n", p.Payee, p.Amount, p.Mint)
				}
				for _, r := range rec.Rewards {
					fmt.Printf("    + %s: %d (%s)\n", r.Account, r.Amount, r.Type)
				}
			}
			fmt.Printf("\n%d record(s)\n", len(records))
			if page.Cursor != nil {
				fmt.Println("More pages available (use --pages)")
			}
			return nil
		},
	}
}

// filterRecords keeps records for which every compiled jq filter yields a
// truthy first value. Records are round-tripped through JSON because gojq
// operates on plain maps.
func filterRecords(records []activity.Record, filters []*gojq.Code) []activity.Record {
	var out []activity.Record
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		var plain interface{}
		if err := json.Unmarshal(data, &plain); err != nil {
			continue
		}

		keep := true
		for _, code := range filters {
			iter := code.Run(plain)
			v, ok := iter.Next()
			if !ok || v == nil || v == false {
				keep = false
				break
			}
			if _, isErr := v.(error); isErr {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, rec)
		}
	}
	return out
}
