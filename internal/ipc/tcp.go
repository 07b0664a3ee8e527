package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// authTimeout bounds how long a TCP client may take to complete the
// handshake before the connection is dropped.
const authTimeout = 10 * time.Second

// TCPServerOptions configures the remote listener.
type TCPServerOptions struct {
	// Addr is the host:port to listen on, e.g. "0.0.0.0:7433".
	Addr string
	// RequireAuth demands a session-key handshake as the first line of
	// every connection.
	RequireAuth bool
	// AllowedIPs, when non-empty, restricts connections to these source
	// addresses. Checked before the handshake.
	AllowedIPs []string
	// ValidateAuth checks a presented session key. Required when
	// RequireAuth is set.
	ValidateAuth func(ctx context.Context, sessionKey string) (bool, error)
}

// TCPServer exposes the same protocol as the unix socket to remote clients,
// gated by an IP allowlist and a session-key handshake.
type TCPServer struct {
	opts       TCPServerOptions
	dispatcher *Dispatcher
	logger     *slog.Logger

	listener net.Listener
	conns    sync.WaitGroup
	stopOnce sync.Once
}

// NewTCPServer binds the TCP listener.
func NewTCPServer(opts TCPServerOptions, dispatcher *Dispatcher, logger *slog.Logger) (*TCPServer, error) {
	if opts.Addr == "" {
		return nil, errors.New("listen address is empty")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	if opts.RequireAuth && opts.ValidateAuth == nil {
		return nil, errors.New("auth required but no validator configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", opts.Addr, err)
	}
	return &TCPServer{
		opts:       opts,
		dispatcher: dispatcher,
		logger:     logger,
		listener:   ln,
	}, nil
}

// Addr returns the bound listen address, useful when the port was chosen by
// the OS.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Start runs the accept loop until the context is canceled or the listener
// is closed by Stop.
func (s *TCPServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept tcp connection", "error", err)
			}
			return
		}

		if !s.sourceAllowed(conn) {
			s.logger.Warn("rejected connection from disallowed address", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serve(ctx, conn)
		}()
	}
}

// Stop closes the listener and waits for in-flight connections to drain.
// Safe to call more than once.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() {
		s.listener.Close()
	})
	s.conns.Wait()
}

func (s *TCPServer) sourceAllowed(conn net.Conn) bool {
	if len(s.opts.AllowedIPs) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	for _, allowed := range s.opts.AllowedIPs {
		if host == allowed {
			return true
		}
	}
	return false
}

func (s *TCPServer) serve(ctx context.Context, conn net.Conn) {
	if s.opts.RequireAuth {
		if !s.authenticate(ctx, conn) {
			conn.Close()
			return
		}
	}
	serveConn(ctx, conn, s.dispatcher, s.logger)
}

// authenticate runs the first-line handshake. The connection gets exactly
// one attempt.
func (s *TCPServer) authenticate(ctx context.Context, conn net.Conn) bool {
	deadline := time.Now().Add(authTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return false
	}

	line, err := readAuthLine(conn)
	if err != nil {
		return false
	}

	var auth authRequest
	if err := json.Unmarshal(line, &auth); err != nil || auth.SessionKey == "" {
		s.writeAuthResponse(conn, authResponse{Error: "session key required"})
		return false
	}

	ok, err := s.opts.ValidateAuth(ctx, auth.SessionKey)
	if err != nil {
		s.logger.Error("validate session key", "remote", conn.RemoteAddr(), "error", err)
		s.writeAuthResponse(conn, authResponse{Error: "auth check failed"})
		return false
	}
	if !ok {
		s.logger.Warn("rejected invalid session key", "remote", conn.RemoteAddr())
		s.writeAuthResponse(conn, authResponse{Error: "invalid session key"})
		return false
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return false
	}
	s.writeAuthResponse(conn, authResponse{OK: true})
	return true
}

// readAuthLine reads the handshake line one byte at a time so no request
// bytes that follow it end up stranded in a buffer.
func readAuthLine(conn net.Conn) ([]byte, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return nil, err
		}
		if buf[0] == '\n' {
			return line, nil
		}
		line = append(line, buf[0])
		if len(line) > 4096 {
			return nil, errors.New("handshake line too long")
		}
	}
}

func (s *TCPServer) writeAuthResponse(conn net.Conn, resp authResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_, _ = conn.Write(append(data, '\n'))
}
