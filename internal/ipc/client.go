package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// dialTimeout bounds the TCP dial and handshake when a remote daemon is
// configured.
const dialTimeout = 5 * time.Second

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("client closed")

// Client talks to the daemon. When PAIRLOCK_HOST is set it dials the remote
// TCP listener first, authenticating with PAIRLOCK_SESSION_KEY; if the
// remote is unreachable it falls back to the local unix socket.
type Client struct {
	conn   net.Conn
	remote bool

	mu     sync.Mutex
	nextID int64

	events chan Event
	resps  chan RPCResponse
	done   chan struct{}

	closeOnce sync.Once
}

// NewClient connects to the daemon.
func NewClient(socketPath string) (*Client, error) {
	if host := os.Getenv("PAIRLOCK_HOST"); host != "" {
		conn, err := dialRemote(host, os.Getenv("PAIRLOCK_SESSION_KEY"))
		if err == nil {
			return newClient(conn, true), nil
		}
		// Remote unreachable; fall back to the local socket.
	}

	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", socketPath, err)
	}
	return newClient(conn, false), nil
}

func newClient(conn net.Conn, remote bool) *Client {
	c := &Client{
		conn:   conn,
		remote: remote,
		events: make(chan Event, subscriberQueueSize),
		resps:  make(chan RPCResponse, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// dialRemote connects to a TCP daemon and, when a session key is set,
// completes the handshake. An empty key means the listener runs without
// auth.
func dialRemote(host, sessionKey string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", host, dialTimeout)
	if err != nil {
		return nil, err
	}
	if sessionKey == "" {
		return conn, nil
	}

	if err := conn.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	data, err := json.Marshal(authRequest{SessionKey: sessionKey})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		conn.Close()
		return nil, err
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	var resp authResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode handshake response: %w", err)
	}
	if !resp.OK {
		conn.Close()
		return nil, fmt.Errorf("handshake rejected: %s", resp.Error)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Remote reports whether the client is connected over TCP rather than the
// local socket.
func (c *Client) Remote() bool {
	return c.remote
}

// readLoop splits the inbound stream into pushed events and call responses.
func (c *Client) readLoop() {
	defer close(c.done)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var envelope struct {
			Event *Event `json:"event"`
		}
		if err := json.Unmarshal(line, &envelope); err == nil && envelope.Event != nil {
			select {
			case c.events <- *envelope.Event:
			default:
				// Consumer is behind; drop rather than stall the reader.
			}
			continue
		}

		var resp RPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		select {
		case c.resps <- resp:
		default:
			// The buffered response belongs to an abandoned call; calls are
			// serialized, so the newest response is the one the in-flight
			// call is waiting for.
			select {
			case <-c.resps:
			default:
			}
			select {
			case c.resps <- resp:
			default:
			}
		}
	}
}

// call sends one request and waits for the response carrying its ID. Calls
// are serialized; a response whose ID does not match belongs to an earlier
// call abandoned on cancellation and is discarded.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	// Drop any response left over from a cancelled call.
drain:
	for {
		select {
		case <-c.resps:
		default:
			break drain
		}
	}

	c.nextID++
	id := c.nextID
	req := RPCRequest{Method: method, ID: id}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send %s request: %w", method, err)
	}

	for {
		select {
		case resp := <-c.resps:
			if resp.ID != id {
				continue
			}
			if resp.Error != nil {
				return fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
			}
			if result == nil {
				return nil
			}
			raw, err := json.Marshal(resp.Result)
			if err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
			return json.Unmarshal(raw, result)
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Ping checks that the daemon is alive.
func (c *Client) Ping(ctx context.Context) error {
	var result struct {
		Pong bool `json:"pong"`
	}
	if err := c.call(ctx, "ping", nil, &result); err != nil {
		return err
	}
	if !result.Pong {
		return errors.New("unexpected ping response")
	}
	return nil
}

// Status fetches the daemon status summary.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	var result StatusResult
	err := c.call(ctx, "status", nil, &result)
	return result, err
}

// Notify broadcasts an event to all subscribers.
func (c *Client) Notify(ctx context.Context, eventType string, payload any) error {
	return c.call(ctx, "notify", NotifyParams{Type: eventType, Payload: payload}, nil)
}

// Subscribe registers for pushed events and returns the delivery channel.
// The channel stays open for the life of the connection.
func (c *Client) Subscribe(ctx context.Context) (<-chan Event, error) {
	var result SubscribeResult
	if err := c.call(ctx, "subscribe", nil, &result); err != nil {
		return nil, err
	}
	if !result.Subscribed {
		return nil, errors.New("subscription refused")
	}
	return c.events, nil
}

// HookQuery classifies a command.
func (c *Client) HookQuery(ctx context.Context, params HookQueryParams) (HookQueryResult, error) {
	var result HookQueryResult
	err := c.call(ctx, "hook_query", params, &result)
	return result, err
}

// HookHealth fetches the classifier health summary.
func (c *Client) HookHealth(ctx context.Context) (HookHealthResult, error) {
	var result HookHealthResult
	err := c.call(ctx, "hook_health", nil, &result)
	return result, err
}

// VerifyExecute asks for the execution token on a request.
func (c *Client) VerifyExecute(ctx context.Context, requestID, sessionID string) (VerifyExecuteResult, error) {
	var result VerifyExecuteResult
	err := c.call(ctx, "verify_execute", VerifyExecuteParams{RequestID: requestID, SessionID: sessionID}, &result)
	return result, err
}

// Review records a decision on a request.
func (c *Client) Review(ctx context.Context, params ReviewParams) (ReviewResult, error) {
	var result ReviewResult
	err := c.call(ctx, "review", params, &result)
	return result, err
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
