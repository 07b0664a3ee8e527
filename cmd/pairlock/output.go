package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/groblegark/pairlock/internal/ipc"
)

// callTimeout bounds every one-shot client call.
const callTimeout = 10 * time.Second

// dialDaemon connects to the daemon using the active remote or the local
// socket.
func dialDaemon() (*ipc.Client, error) {
	client, err := ipc.NewClient(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot reach daemon (is 'pairlock serve' running?): %w", err)
	}
	return client, nil
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// formatUptime renders seconds as a compact human duration.
func formatUptime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
