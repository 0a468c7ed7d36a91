package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Session is a connected JSON-RPC duplex to one MCP server.
type Session interface {
	// Connect opens the physical channel. Calling it on a connected session
	// is a no-op; calling it after Close returns ErrClosed.
	Connect(ctx context.Context) error
	// Send transmits a request and waits for the response with the same id.
	// A request without an id is assigned one.
	Send(ctx context.Context, msg *Message) (*Message, error)
	// Notify transmits a message that expects no response.
	Notify(ctx context.Context, msg *Message) error
	// OnNotification registers h for server-initiated messages and returns a
	// func that removes it.
	OnNotification(h NotificationHandler) (unsubscribe func())
	// Close releases the channel and fails every in-flight Send.
	Close() error
	// Kind reports the binding.
	Kind() Kind
}

// Factory builds a Session for a Config. New is the default.
type Factory func(cfg Config, opts *Options) (Session, error)

// RPCDirection is the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent carries one traced JSON-RPC message.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	Server    string
}

// RPCLogger observes every JSON-RPC message a session sends or receives.
type RPCLogger func(RPCLogEvent)

// Options tunes a Session. The zero value is usable.
type Options struct {
	// Server labels log lines and traced messages.
	Server string
	Logger *slog.Logger
	// RPCLogger, when set, receives every message on the wire.
	RPCLogger RPCLogger

	// RequestTimeout bounds each Send. Defaults to 30s.
	RequestTimeout time.Duration
	// ConnectTimeout bounds event-stream establishment. Defaults to 10s.
	ConnectTimeout time.Duration
	// SpawnGrace is how long a child process must stay alive before the
	// stdio binding reports it connected. Defaults to 100ms.
	SpawnGrace time.Duration
	// KillTimeout is how long Close waits after SIGTERM before killing the
	// child. Defaults to 5s.
	KillTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = 30 * time.Second
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.SpawnGrace <= 0 {
		out.SpawnGrace = 100 * time.Millisecond
	}
	if out.KillTimeout <= 0 {
		out.KillTimeout = 5 * time.Second
	}
	return out
}

// New returns an unconnected Session for cfg.
func New(cfg Config, opts *Options) (Session, error) {
	o := opts.withDefaults()
	switch c := cfg.(type) {
	case *HTTPConfig:
		if c.Endpoint == "" {
			return nil, fmt.Errorf("mcptransport: endpoint missing")
		}
		if c.Stateless {
			return newPostSession(c, o), nil
		}
		s, err := newSSESession(c, o)
		if err != nil {
			return nil, err
		}
		return s, nil
	case *StdioConfig:
		if c.Command == "" {
			return nil, fmt.Errorf("mcptransport: command missing")
		}
		return newStdioSession(c, o), nil
	case nil:
		return nil, fmt.Errorf("mcptransport: nil transport config")
	default:
		return nil, fmt.Errorf("mcptransport: unsupported transport config %T", cfg)
	}
}

// rpcCore holds the correlation state shared by the streaming bindings.
type rpcCore struct {
	opts    Options
	log     *slog.Logger
	pending *pendingTable
	hub     *NotificationHub
	seq     atomic.Int64
}

func newRPCCore(kind Kind, opts Options) *rpcCore {
	log := opts.Logger.With("transport", string(kind))
	if opts.Server != "" {
		log = log.With("server", opts.Server)
	}
	return &rpcCore{
		opts:    opts,
		log:     log,
		pending: newPendingTable(),
		hub:     NewNotificationHub(),
	}
}

// stamp returns a copy of msg with the protocol version set and an id
// assigned when missing, together with its correlation key.
func (c *rpcCore) stamp(msg *Message) (*Message, string) {
	out := *msg
	if out.JSONRPC == "" {
		out.JSONRPC = Version
	}
	if !out.HasID() {
		out.ID = StringID(fmt.Sprintf("req-%d", c.seq.Add(1)))
	}
	return &out, out.IDKey()
}

// roundTrip registers the request, hands it to write and waits for the
// correlated reply, the request timeout, or ctx.
func (c *rpcCore) roundTrip(ctx context.Context, msg *Message, write func(context.Context, *Message) error) (*Message, error) {
	out, key := c.stamp(msg)
	ch, ok := c.pending.register(key)
	if !ok {
		return nil, fmt.Errorf("mcptransport: request id %q already in flight", key)
	}
	c.trace(RPCDirectionSend, out)
	if err := write(ctx, out); err != nil {
		c.pending.forget(key)
		return nil, err
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.msg, nil
	case <-timer.C:
		c.pending.forget(key)
		return nil, &TimeoutError{Op: "response", Method: out.Method, After: c.opts.RequestTimeout}
	case <-ctx.Done():
		c.pending.forget(key)
		return nil, ctx.Err()
	}
}

// dispatch routes an inbound message to its waiter or, when it carries a
// method and nobody is waiting on its id, to the notification handlers.
func (c *rpcCore) dispatch(msg *Message) {
	c.trace(RPCDirectionReceive, msg)
	key := msg.IDKey()
	if key != "" && c.pending.resolve(key, msg) {
		return
	}
	if msg.Method != "" {
		c.hub.Dispatch(msg)
		return
	}
	c.log.Debug("dropping unsolicited response", "id", key)
}

func (c *rpcCore) OnNotification(h NotificationHandler) func() {
	return c.hub.Subscribe(h)
}

func (c *rpcCore) trace(dir RPCDirection, msg *Message) {
	if c.opts.RPCLogger == nil {
		return
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.opts.RPCLogger(RPCLogEvent{Direction: dir, Message: encoded, Server: c.opts.Server})
}
