package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
)

// maxLineSize bounds one request line. Commands can be long but a megabyte
// of shell is a protocol violation, not a command.
const maxLineSize = 1 << 20

// Server accepts connections on a unix socket and serves the dispatcher's
// protocol over newline-delimited JSON.
type Server struct {
	socketPath string
	dispatcher *Dispatcher
	logger     *slog.Logger

	listener net.Listener
	conns    sync.WaitGroup
	stopOnce sync.Once
}

// NewServer binds the unix socket at socketPath. An existing socket file is
// assumed stale and replaced; any other kind of file at that path is an
// error and left untouched.
func NewServer(socketPath string, dispatcher *Dispatcher, logger *slog.Logger) (*Server, error) {
	if socketPath == "" {
		return nil, errors.New("socket path is empty")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Lstat(socketPath)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("socket path %s is a directory", socketPath)
	case err == nil && info.Mode()&os.ModeSocket == 0:
		return nil, fmt.Errorf("path %s exists and is not a socket", socketPath)
	case err == nil:
		// Leftover from an unclean shutdown.
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("stat socket path: %w", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		os.Remove(socketPath)
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		socketPath: socketPath,
		dispatcher: dispatcher,
		logger:     logger,
		listener:   ln,
	}, nil
}

// SocketPath returns the path the server is listening on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start runs the accept loop until the context is canceled or the listener
// is closed by Stop.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept connection", "error", err)
			}
			return
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			serveConn(ctx, conn, s.dispatcher, s.logger)
		}()
	}
}

// Stop closes the listener, removes the socket file, and waits for in-flight
// connections to drain. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.listener.Close()
		os.Remove(s.socketPath)
	})
	s.conns.Wait()
}

// connState is the per-connection write side. Responses from the request
// loop and pushed events from the subscription writer interleave on the same
// conn, so every write takes the mutex and sends one full line.
type connState struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *connState) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// serveConn reads request lines until the client disconnects. Requests are
// handled serially in arrival order; a malformed line gets a parse error and
// the connection stays open.
func serveConn(ctx context.Context, conn net.Conn, d *Dispatcher, logger *slog.Logger) {
	defer conn.Close()

	state := &connState{conn: conn}
	var sub *Subscriber
	defer func() {
		if sub != nil {
			d.hub.Remove(sub)
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req RPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			if werr := state.writeJSON(errResponse(0, ErrCodeParse, "parse error")); werr != nil {
				return
			}
			continue
		}

		var resp RPCResponse
		if req.Method == "subscribe" {
			resp, sub = handleSubscribe(req, d, state, sub, logger)
		} else {
			resp = d.Dispatch(ctx, req)
		}
		if err := state.writeJSON(resp); err != nil {
			return
		}
	}
}

// handleSubscribe attaches the connection to the hub and starts the writer
// goroutine that pushes events to it. A second subscribe on the same
// connection keeps the existing subscription.
func handleSubscribe(req RPCRequest, d *Dispatcher, state *connState, existing *Subscriber, logger *slog.Logger) (RPCResponse, *Subscriber) {
	if existing != nil {
		return okResponse(req.ID, SubscribeResult{Subscribed: true, SubscriptionID: existing.ID}), existing
	}

	sub, err := d.hub.Add()
	if err != nil {
		logger.Error("register subscriber", "error", err)
		return errResponse(req.ID, ErrCodeInternal, "register subscriber"), nil
	}

	go func() {
		for ev := range sub.Events() {
			if err := state.writeJSON(eventEnvelope{Event: ev}); err != nil {
				d.hub.Remove(sub)
				return
			}
		}
	}()

	return okResponse(req.ID, SubscribeResult{Subscribed: true, SubscriptionID: sub.ID}), sub
}
