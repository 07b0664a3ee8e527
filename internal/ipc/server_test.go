package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// startServer binds a unix server in a temp dir and runs its accept loop
// until the test ends.
func startServer(t *testing.T, d *Dispatcher) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "pairlock.sock")
	srv, err := NewServer(socketPath, d, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Start(ctx)
	t.Cleanup(srv.Stop)
	return socketPath
}

func connectClient(t *testing.T, socketPath string) *Client {
	t.Helper()
	client, err := NewClient(socketPath)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServerRequiresSocketPath(t *testing.T) {
	if _, err := NewServer("", newTestDispatcher(nil), nil); err == nil {
		t.Fatal("expected error for empty socket path")
	}
}

func TestServerSocketPermissions(t *testing.T) {
	socketPath := startServer(t, newTestDispatcher(nil))

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket permissions = %o, want 600", perm)
	}
}

func TestServerRefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairlock.sock")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := NewServer(path, newTestDispatcher(nil), nil)
	if err == nil {
		t.Fatal("expected error for existing regular file")
	}
	if !strings.Contains(err.Error(), "not a socket") {
		t.Errorf("error = %v, want mention of non-socket file", err)
	}
	// The file must survive.
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("existing file was removed: %v", statErr)
	}
}

func TestServerRefusesDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewServer(dir, newTestDispatcher(nil), nil); err == nil {
		t.Fatal("expected error for directory at socket path")
	}
}

func TestServerReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "pairlock.sock")

	// Simulate an unclean shutdown leaving a socket file behind.
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		t.Fatalf("pre-bind socket: %v", err)
	}
	ln.SetUnlinkOnClose(false)
	ln.Close()
	if _, err := os.Stat(socketPath); err != nil {
		t.Fatalf("stale socket file missing: %v", err)
	}

	srv, err := NewServer(socketPath, newTestDispatcher(nil), nil)
	if err != nil {
		t.Fatalf("NewServer over stale socket: %v", err)
	}
	srv.Stop()
}

func TestServerStopRemovesSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "pairlock.sock")
	srv, err := NewServer(socketPath, newTestDispatcher(nil), nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Start(context.Background())

	srv.Stop()
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Stop: %v", err)
	}

	// Stop is idempotent.
	srv.Stop()
}

func TestClientPingOverSocket(t *testing.T) {
	socketPath := startServer(t, newTestDispatcher(nil))
	client := connectClient(t, socketPath)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestClientStatusOverSocket(t *testing.T) {
	ms := newMemStore()
	socketPath := startServer(t, newTestDispatcher(ms))
	client := connectClient(t, socketPath)

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.PendingCount != 0 {
		t.Errorf("PendingCount = %d, want 0", status.PendingCount)
	}
}

func TestClientHookQueryOverSocket(t *testing.T) {
	ms := newMemStore()
	socketPath := startServer(t, newTestDispatcher(ms))
	client := connectClient(t, socketPath)

	verdict, err := client.HookQuery(context.Background(), HookQueryParams{
		Command:   "rm -rf node_modules",
		SessionID: "sess-1",
		Agent:     "AgentA",
	})
	if err != nil {
		t.Fatalf("HookQuery: %v", err)
	}
	if verdict.Action != "block" || verdict.Tier != "dangerous" {
		t.Errorf("verdict = %+v, want block/dangerous", verdict)
	}
	if verdict.RequestID == "" {
		t.Error("missing request_id")
	}
}

func TestClientReviewAndVerifyOverSocket(t *testing.T) {
	ms := newMemStore()
	socketPath := startServer(t, newTestDispatcher(ms))
	requestor := connectClient(t, socketPath)
	reviewer := connectClient(t, socketPath)

	ctx := context.Background()
	verdict, err := requestor.HookQuery(ctx, HookQueryParams{
		Command:   "rm -rf build",
		SessionID: "sess-1",
		Agent:     "AgentA",
	})
	if err != nil {
		t.Fatalf("HookQuery: %v", err)
	}

	review, err := reviewer.Review(ctx, ReviewParams{
		RequestID: verdict.RequestID,
		SessionID: "sess-2",
		Decision:  "approve",
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if review.Status != "approved" {
		t.Fatalf("status after review = %s, want approved", review.Status)
	}

	grant, err := requestor.VerifyExecute(ctx, verdict.RequestID, "sess-1")
	if err != nil {
		t.Fatalf("VerifyExecute: %v", err)
	}
	if !grant.Allowed {
		t.Fatalf("grant = %+v, want allowed", grant)
	}
}

func TestSubscriberReceivesNotify(t *testing.T) {
	socketPath := startServer(t, newTestDispatcher(nil))
	watcher := connectClient(t, socketPath)
	sender := connectClient(t, socketPath)

	ctx := context.Background()
	events, err := watcher.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := sender.Notify(ctx, "deploy_window", map[string]any{"open": true}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != "deploy_window" {
			t.Errorf("event type = %s", ev.Type)
		}
		if ev.Payload["open"] != true {
			t.Errorf("payload = %v", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriberStillAnswersCalls(t *testing.T) {
	socketPath := startServer(t, newTestDispatcher(nil))
	client := connectClient(t, socketPath)

	ctx := context.Background()
	if _, err := client.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// The connection keeps serving regular calls after subscribing.
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping after subscribe: %v", err)
	}
}

func TestParseErrorKeepsConnectionOpen(t *testing.T) {
	socketPath := startServer(t, newTestDispatcher(nil))

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read error response: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "-32700") {
		t.Errorf("response = %s, want parse error code", buf[:n])
	}

	// The same connection still works.
	if _, err := conn.Write([]byte(`{"method":"ping","id":2}` + "\n")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	n, err = conn.Read(buf)
	if err != nil {
		t.Fatalf("read ping response: %v", err)
	}
	if !strings.Contains(string(buf[:n]), `"pong":true`) {
		t.Errorf("response = %s, want pong", buf[:n])
	}
}

func TestMultipleClients(t *testing.T) {
	socketPath := startServer(t, newTestDispatcher(nil))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		client := connectClient(t, socketPath)
		if err := client.Ping(ctx); err != nil {
			t.Fatalf("client %d ping: %v", i, err)
		}
	}
}

func TestClientDiscardsAbandonedResponses(t *testing.T) {
	socketPath := startServer(t, newTestDispatcher(nil))
	client := connectClient(t, socketPath)

	// Abandon a call: the request goes out, but the caller gives up before
	// the response arrives.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.HookHealth(cancelled); err == nil {
		t.Fatal("expected error from cancelled call")
	}

	// Let the daemon's answer to the abandoned call land first.
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status after abandoned call: %v", err)
	}
	if status.UptimeSeconds <= 0 {
		t.Errorf("UptimeSeconds = %v, want positive", status.UptimeSeconds)
	}

	health, err := client.HookHealth(ctx)
	if err != nil {
		t.Fatalf("HookHealth after abandoned call: %v", err)
	}
	if health.PatternHash == "" || health.PatternCount == 0 {
		t.Errorf("health = %+v, want the ruleset hash and count", health)
	}
}
