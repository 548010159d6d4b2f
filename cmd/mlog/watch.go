package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alfredjeanlab/memlog/internal/client"
	"github.com/alfredjeanlab/memlog/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [topic-pattern...]",
	Short: "Stream lifecycle events",
	Long: `Stream lifecycle events as they happen.

Patterns use NATS wildcards: "*" matches one segment and ">" the rest,
e.g. memlog.window.* or memlog.>. Events come from the server's SSE stream,
or straight from NATS when --nats-url (or MEMLOG_NATS_URL) is set.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if natsURL != "" {
			return watchNATS(ctx, natsURL, args)
		}
		return watchSSE(ctx, args)
	},
}

// watchSSE follows the HTTP event stream, reconnecting with Last-Event-ID
// when the connection drops.
func watchSSE(ctx context.Context, topics []string) error {
	c := client.NewHTTPClient(httpURL, authToken)
	lastID := ""
	for {
		err := c.StreamEvents(ctx, topics, lastID, func(e client.StreamEvent) error {
			lastID = e.ID
			printEvent(e.Topic, e.Data)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("event stream: %v; reconnecting", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

// watchNATS subscribes to each pattern (default memlog.>) on NATS.
func watchNATS(ctx context.Context, natsURL string, patterns []string) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	if len(patterns) == 0 {
		patterns = []string{events.TopicAll}
	}

	merged := make(chan events.Message, 64)
	for _, p := range patterns {
		ch, cancel, err := sub.SubscribeMessages(p)
		if err != nil {
			return err
		}
		defer cancel()
		go func() {
			for m := range ch {
				merged <- m
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-merged:
			printEvent(m.Subject, m.Data)
		}
	}
}

func printEvent(topic string, data []byte) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]any{"topic": topic, "data": json.RawMessage(data)})
		fmt.Fprintln(stdout, string(out))
		return
	}
	fmt.Fprintf(stdout, "%s  %-26s %s\n", time.Now().Format("15:04:05"), topic, strings.TrimSpace(string(data)))
}

func init() {
	watchCmd.Flags().String("nats-url", os.Getenv("MEMLOG_NATS_URL"), "read events from NATS instead of the server")
}
