// Package rcon implements the binary remote-console adapter (Source RCON, as
// spoken by Minecraft and similar game servers).
//
// A connection is a single ordered byte stream without pipelining, so every
// exchange holds the adapter mutex from write to read. Any failure in the
// middle of an exchange closes the socket; the adapter must be reconnected.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wilhg/toolgate/pkg/adapter"
	"github.com/wilhg/toolgate/pkg/errmodel"
)

// Protocol is the registry name of this adapter.
const Protocol = "rcon"

const (
	defaultHost      = "localhost"
	defaultPort      = 25575
	defaultTimeoutMs = 5000
)

// Adapter is the RCON adapter.
type Adapter struct {
	lc     adapter.Lifecycle
	logger *slog.Logger
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	target atomic.Value // string, the dialed address

	mu       sync.Mutex
	conn     net.Conn
	addr     string
	password string
	timeout  time.Duration
	lastID   int32
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs an unconnected RCON adapter.
func New(deps adapter.Deps) *Adapter {
	return &Adapter{
		logger: deps.LoggerOrDiscard().With("component", "adapter", "protocol", Protocol),
		dial:   (&net.Dialer{}).DialContext,
	}
}

// Factory is the registry factory for the RCON adapter.
func Factory(deps adapter.Deps) adapter.Adapter { return New(deps) }

func (a *Adapter) Protocol() string  { return Protocol }
func (a *Adapter) IsConnected() bool { return a.lc.Connected() }

// Connect dials the server and authenticates.
func (a *Adapter) Connect(ctx context.Context, raw adapter.Config) (err error) {
	gen, started, err := a.lc.Begin(Protocol)
	if err != nil || !started {
		return err
	}
	defer func() {
		if err != nil {
			a.lc.Abort(gen)
		}
	}()

	cfg := raw.Resolved()
	host := cfg.String("host", defaultHost)
	port, err := cfg.Int("port", defaultPort)
	if err != nil {
		return err
	}
	if port < 1 || port > 65535 {
		return errmodel.InvalidConfig("port out of range", map[string]any{"field": "port", "value": port})
	}
	timeout, err := cfg.Millis("timeout_ms", defaultTimeoutMs)
	if err != nil {
		return err
	}
	password := cfg.String("password", "")
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := a.dial(dctx, "tcp", addr)
	if err != nil {
		return errmodel.Transport(errmodel.ConnectionFailed, "dial "+addr, map[string]any{"addr": addr}, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Disconnect may have run while dialing; it holds a.mu, so the check
	// and the install below cannot interleave with it.
	if !a.lc.Pending(gen) {
		_ = conn.Close()
		return adapter.Superseded(Protocol)
	}
	a.conn, a.addr, a.password, a.timeout, a.lastID = conn, addr, password, timeout, 0
	a.target.Store(addr)
	if err := a.authenticate(ctx); err != nil {
		a.dropLocked()
		return err
	}
	if !a.lc.Commit(gen) {
		a.dropLocked()
		return adapter.Superseded(Protocol)
	}
	a.logger.InfoContext(ctx, "rcon connected", "addr", addr)
	return nil
}

// nextID returns the next request id. Ids stay positive so a reply can never
// be mistaken for the -1 authentication failure marker.
func (a *Adapter) nextID() int32 {
	if a.lastID == 1<<31-1 {
		a.lastID = 0
	}
	a.lastID++
	return a.lastID
}

// authenticate sends the auth packet and reads up to two reply packets: some
// servers send an empty response value before the auth response.
func (a *Adapter) authenticate(ctx context.Context) error {
	id := a.nextID()
	return a.exchange(ctx, "authenticate", func(conn net.Conn) error {
		if err := writePacket(conn, packet{ID: id, Type: typeAuth, Body: a.password}); err != nil {
			return err
		}
		for range 2 {
			p, err := readPacket(conn)
			if err != nil {
				return err
			}
			if p.ID == -1 {
				return errmodel.AuthenticationFailed("Invalid RCON password", map[string]any{"addr": a.addr})
			}
			switch p.Type {
			case typeAuthResponse:
				if p.ID != id {
					return errmodel.ProtocolError("auth response id mismatch", map[string]any{"want": id, "got": p.ID})
				}
				return nil
			case typeResponseValue:
				continue
			default:
				return errmodel.ProtocolError(fmt.Sprintf("unexpected packet type %d during auth", p.Type), map[string]any{"type": p.Type})
			}
		}
		return errmodel.ProtocolError("no auth response from server", map[string]any{"addr": a.addr})
	})
}

// exchange runs fn against the connection under a deadline. Cancelling ctx
// interrupts blocked I/O. Callers hold a.mu.
func (a *Adapter) exchange(ctx context.Context, op string, fn func(conn net.Conn) error) error {
	conn := a.conn
	if conn == nil {
		return errmodel.ConnectionFailed("adapter is not connected", map[string]any{"protocol": Protocol})
	}
	deadline := time.Now().Add(a.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return errmodel.ConnectionFailed("set deadline", map[string]any{"addr": a.addr}, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	err := fn(conn)
	stop()
	if err == nil {
		return nil
	}
	diag := map[string]any{"addr": a.addr, "op": op}
	var ce *errmodel.Error
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(ctx.Err(), context.Canceled):
		return errmodel.ConnectionFailed(op+" canceled", diag, ctx.Err(), err)
	case ctx.Err() != nil:
		return errmodel.Timeout(op+": deadline exceeded", diag, ctx.Err(), err)
	default:
		return errmodel.Transport(errmodel.ConnectionFailed, op+" failed", diag, err)
	}
}

// Execute sends exactly one command packet and returns the body of the one reply.
func (a *Adapter) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := a.lc.Require(Protocol); err != nil {
		return nil, err
	}
	if c, ok := commandIndex[tool]; ok {
		if err := adapter.ValidateArgs(c.Operation, args); err != nil {
			return nil, err
		}
	}
	cmd, err := buildCommand(tool, args)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil, errmodel.ConnectionFailed("adapter is not connected", map[string]any{"protocol": Protocol})
	}
	id := a.nextID()
	var body string
	err = a.exchange(ctx, tool, func(conn net.Conn) error {
		if err := writePacket(conn, packet{ID: id, Type: typeExecCommand, Body: cmd}); err != nil {
			return err
		}
		p, err := readPacket(conn)
		if err != nil {
			return err
		}
		if p.ID == -1 {
			return errmodel.AuthenticationFailed("server rejected the session", map[string]any{"addr": a.addr})
		}
		if p.ID != id {
			return errmodel.ProtocolError("response id mismatch", map[string]any{"want": id, "got": p.ID})
		}
		if p.Type != typeResponseValue {
			return errmodel.ProtocolError(fmt.Sprintf("unexpected response type %d", p.Type), map[string]any{"type": p.Type})
		}
		body = p.Body
		return nil
	})
	if err != nil {
		a.logger.WarnContext(ctx, "rcon exchange failed, dropping connection", "tool", tool, "error", err)
		a.closeLocked()
		return nil, err
	}
	a.logger.DebugContext(ctx, "rcon command", "tool", tool, "id", id)
	return body, nil
}

// dropLocked closes the socket and forgets the session. Callers hold a.mu.
func (a *Adapter) dropLocked() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.password = ""
	a.lastID = 0
}

// closeLocked drops the session and marks the adapter disconnected. Callers hold a.mu.
func (a *Adapter) closeLocked() {
	a.dropLocked()
	a.lc.Reset()
}

// Disconnect closes the connection. It waits for an exchange in flight, which
// is bounded by the configured timeout.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeLocked()
	return nil
}

// HealthCheck reports the connection state and target without writing to the
// socket: a probe would consume a request id and contend with callers.
func (a *Adapter) HealthCheck(ctx context.Context) (adapter.Health, error) {
	if !a.lc.Connected() {
		return adapter.Health{Connected: false, Message: "not connected"}, nil
	}
	addr, _ := a.target.Load().(string)
	return adapter.Health{Connected: true, Message: "connected to " + addr}, nil
}

func (a *Adapter) SupportedOperations() []adapter.Operation {
	out := make([]adapter.Operation, 0, len(commands))
	for _, c := range commands {
		out = append(out, c.Operation)
	}
	return out
}
