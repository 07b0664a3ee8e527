package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/groblegark/pairlock/internal/events"
	"github.com/groblegark/pairlock/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream approval events as they happen",
	GroupID: "reviews",
	Long: `Subscribe to the daemon's event stream and print each event as it
arrives. With a NATS URL configured (flag, PAIRLOCK_NATS_URL, or the
active remote) events come from the bus instead, which also covers
multi-daemon setups.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = os.Getenv("PAIRLOCK_NATS_URL")
		}
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}
		if natsURL != "" {
			return watchNATS(ctx, natsURL)
		}
		return watchSocket(ctx)
	},
}

// watchSocket streams events over the daemon's own subscription channel.
func watchSocket(ctx context.Context) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	subCtx, cancel := context.WithTimeout(ctx, callTimeout)
	ch, err := client.Subscribe(subCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return fmt.Errorf("daemon closed the event stream")
			}
			printEvent(ev.Type, ev.Payload)
		}
	}
}

// watchNATS streams the bridge topics from the bus.
func watchNATS(ctx context.Context, natsURL string) error {
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

	ch, cancel, err := sub.Subscribe("pairlock.>")
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var payload map[string]any
			if err := json.Unmarshal(data, &payload); err != nil {
				log.Printf("nats: bad event payload: %v", err)
				continue
			}
			printEvent("", payload)
		}
	}
}

// printEvent renders one event line. eventType may be empty for bus events,
// which carry their shape in the payload alone.
func printEvent(eventType string, payload map[string]any) {
	if jsonOutput {
		obj := make(map[string]any, len(payload)+1)
		for k, v := range payload {
			obj[k] = v
		}
		if eventType != "" {
			obj["type"] = eventType
		}
		out, err := json.Marshal(obj)
		if err != nil {
			return
		}
		fmt.Println(string(out))
		return
	}

	ts := time.Now().Format("15:04:05")
	line := ui.RenderMuted(ts)
	if eventType != "" {
		line += " " + ui.RenderAccent(eventType)
	}
	if id, ok := payload["request_id"].(string); ok && id != "" {
		line += " " + id
	}
	if cmd, ok := payload["command"].(string); ok && cmd != "" {
		line += " " + ui.RenderCommand(cmd)
	}
	if tier, ok := payload["tier"].(string); ok && tier != "" {
		line += " (" + tier + ")"
	}
	if status, ok := payload["status"].(string); ok && status != "" {
		line += " -> " + status
	}
	fmt.Println(line)
}

func init() {
	watchCmd.Flags().String("nats", "", "NATS URL to stream from instead of the local socket")
}
