package ipc

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// startTCPServer binds a TCP server on a random localhost port and runs its
// accept loop until the test ends.
func startTCPServer(t *testing.T, opts TCPServerOptions, d *Dispatcher) *TCPServer {
	t.Helper()
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	srv, err := NewTCPServer(opts, d, nil)
	if err != nil {
		t.Fatalf("NewTCPServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Start(ctx)
	t.Cleanup(srv.Stop)
	return srv
}

func validateKey(want string) func(context.Context, string) (bool, error) {
	return func(_ context.Context, key string) (bool, error) {
		return key == want, nil
	}
}

func TestTCPServerRequiresAddr(t *testing.T) {
	if _, err := NewTCPServer(TCPServerOptions{}, newTestDispatcher(nil), nil); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestTCPServerRequiresValidator(t *testing.T) {
	opts := TCPServerOptions{Addr: "127.0.0.1:0", RequireAuth: true}
	if _, err := NewTCPServer(opts, newTestDispatcher(nil), nil); err == nil {
		t.Fatal("expected error when auth required without validator")
	}
}

func TestTCPAuthAccepted(t *testing.T) {
	srv := startTCPServer(t, TCPServerOptions{
		RequireAuth:  true,
		ValidateAuth: validateKey("good-key"),
	}, newTestDispatcher(nil))

	conn, err := dialRemote(srv.Addr().String(), "good-key")
	if err != nil {
		t.Fatalf("dialRemote: %v", err)
	}
	client := newClient(conn, true)
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping over tcp: %v", err)
	}
}

func TestTCPAuthRejected(t *testing.T) {
	srv := startTCPServer(t, TCPServerOptions{
		RequireAuth:  true,
		ValidateAuth: validateKey("good-key"),
	}, newTestDispatcher(nil))

	if _, err := dialRemote(srv.Addr().String(), "wrong-key"); err == nil {
		t.Fatal("expected handshake rejection")
	}
}

func TestTCPAuthRequiresKey(t *testing.T) {
	srv := startTCPServer(t, TCPServerOptions{
		RequireAuth:  true,
		ValidateAuth: validateKey("good-key"),
	}, newTestDispatcher(nil))

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"session_key":""}` + "\n")); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "session key required") {
		t.Errorf("response = %s, want key-required rejection", buf[:n])
	}
}

func TestTCPWithoutAuth(t *testing.T) {
	srv := startTCPServer(t, TCPServerOptions{}, newTestDispatcher(nil))

	// No handshake configured; the protocol starts immediately.
	conn, err := dialRemote(srv.Addr().String(), "")
	if err != nil {
		t.Fatalf("dialRemote: %v", err)
	}
	client := newClient(conn, true)
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping without auth: %v", err)
	}
}

func TestTCPAllowlistRejects(t *testing.T) {
	srv := startTCPServer(t, TCPServerOptions{
		AllowedIPs: []string{"10.1.2.3"},
	}, newTestDispatcher(nil))

	conn, err := dialRemote(srv.Addr().String(), "any")
	if err == nil {
		conn.Close()
		t.Fatal("expected connection from 127.0.0.1 to be rejected")
	}
}

func TestTCPAllowlistAccepts(t *testing.T) {
	srv := startTCPServer(t, TCPServerOptions{
		AllowedIPs:   []string{"127.0.0.1"},
		RequireAuth:  true,
		ValidateAuth: validateKey("good-key"),
	}, newTestDispatcher(nil))

	conn, err := dialRemote(srv.Addr().String(), "good-key")
	if err != nil {
		t.Fatalf("dialRemote: %v", err)
	}
	client := newClient(conn, true)
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestClientPrefersRemote(t *testing.T) {
	srv := startTCPServer(t, TCPServerOptions{
		RequireAuth:  true,
		ValidateAuth: validateKey("remote-key"),
	}, newTestDispatcher(nil))
	socketPath := startServer(t, newTestDispatcher(nil))

	t.Setenv("PAIRLOCK_HOST", srv.Addr().String())
	t.Setenv("PAIRLOCK_SESSION_KEY", "remote-key")

	client := connectClient(t, socketPath)
	if !client.Remote() {
		t.Error("expected remote connection when PAIRLOCK_HOST is reachable")
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestClientFallsBackToSocket(t *testing.T) {
	socketPath := startServer(t, newTestDispatcher(nil))

	// Nothing listens on port 1; the dial fails fast and the client falls
	// back to the local socket.
	t.Setenv("PAIRLOCK_HOST", "127.0.0.1:1")
	t.Setenv("PAIRLOCK_SESSION_KEY", "irrelevant")

	client := connectClient(t, socketPath)
	if client.Remote() {
		t.Error("expected fallback to local socket")
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestTCPStopIsIdempotent(t *testing.T) {
	srv, err := NewTCPServer(TCPServerOptions{Addr: "127.0.0.1:0"}, newTestDispatcher(nil), nil)
	if err != nil {
		t.Fatalf("NewTCPServer: %v", err)
	}
	go srv.Start(context.Background())
	time.Sleep(10 * time.Millisecond)

	srv.Stop()
	srv.Stop()
}
