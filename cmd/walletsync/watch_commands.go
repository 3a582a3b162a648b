package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/hntlabs/walletsync/service/nats"
	"github.com/hntlabs/walletsync/service/wallet"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Watch live balance events on NATS",
		ArgsUsage: "CLUSTER [WALLET_ADDRESS]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("cluster is required")
			}
			cluster, err := wallet.ParseCluster(c.Args().Get(0))
			if err != nil {
				return err
			}
			address := c.Args().Get(1)
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			nc, err := nats.Connect(natsURL, nats.Name("walletsync-watch"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			subject := natspkg.Subject(string(cluster), address)
			if !jsonOutput {
				fmt.Printf("📡 Watching %s (Ctrl-C to stop)\n\n", subject)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			})
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			msgChan := make(chan jetstream.Msg, 10)
			go func() {
				_, _ = cons.Consume(func(msg jetstream.Msg) {
					msgChan <- msg
				})
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case msg := <-msgChan:
					var event natspkg.BalanceEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						msg.Ack()
						continue
					}

					if jsonOutput {
						data, _ := json.Marshal(event)
						fmt.Println(string(data))
					} else {
						fmt.Printf("✅ Balance update: %s (%s)\n", event.WalletAddress, event.Cluster)
						for _, t := range event.Tokens {
							fmt.Printf("   %-8s %d\n", t.Token, t.Balance)
						}
						fmt.Printf("   %-8s %d lamports\n", "SOL", event.NativeBalance)
						fmt.Printf("   %-8s %d (escrow)\n", "DC", event.EscrowBalance)
						fmt.Printf("   Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
					}

					msg.Ack()

				case <-shutdown:
					if !jsonOutput {
						fmt.Println("stopped")
					}
					return nil
				}
			}
		},
	}
}
