package mcptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// postSession is the stateless binding: every request is an independent
// HTTP POST whose reply body carries the JSON-RPC response.
type postSession struct {
	core    *rpcCore
	cfg     *HTTPConfig
	client  *http.Client
	tracker *sessionIDTracker

	mu        sync.Mutex
	connected bool
	closed    bool
	token     string
	// life is canceled by Close so in-flight requests stop with ErrClosed.
	life context.Context
	stop context.CancelFunc
}

func newPostSession(cfg *HTTPConfig, opts Options) *postSession {
	tracker := &sessionIDTracker{}
	return &postSession{
		core:    newRPCCore(KindHTTPPost, opts),
		cfg:     cfg,
		client:  decorateHTTPClient(cfg, tracker),
		tracker: tracker,
	}
}

func (p *postSession) Kind() Kind { return KindHTTPPost }

// Connect synthesizes a local session token. It performs no network I/O.
func (p *postSession) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return ErrClosed
	case p.connected:
		return nil
	}
	p.token = "session-" + uuid.NewString()
	p.life, p.stop = context.WithCancel(context.Background())
	p.connected = true
	p.core.log.Debug("post transport ready", "session", p.token)
	return nil
}

// SessionToken returns the token minted by Connect.
func (p *postSession) SessionToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// ServerSessionID returns the last Mcp-Session-Id the server handed out.
func (p *postSession) ServerSessionID() string { return p.tracker.Value() }

// OnNotification accepts the handler but never calls it: a stateless channel
// cannot carry server-initiated messages.
func (p *postSession) OnNotification(NotificationHandler) func() {
	p.core.log.Warn("server-initiated notifications not supported in POST-only mode")
	return func() {}
}

// ready returns the session's lifetime context once connected.
func (p *postSession) ready() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrClosed
	case !p.connected:
		return nil, ErrNotConnected
	}
	return p.life, nil
}

// bind derives a request context that is also canceled when the session
// closes.
func bind(ctx, life context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (p *postSession) Send(ctx context.Context, msg *Message) (*Message, error) {
	life, err := p.ready()
	if err != nil {
		return nil, err
	}
	out, key := p.core.stamp(msg)
	p.core.trace(RPCDirectionSend, out)

	ctx, cancel := context.WithTimeout(ctx, p.core.opts.RequestTimeout)
	defer cancel()
	ctx, unbind := bind(ctx, life)
	defer unbind()
	resp, err := p.post(ctx, out)
	if err != nil {
		return nil, p.failure(ctx, life, out.Method, err)
	}
	defer resp.Body.Close()

	reply, err := p.readReply(resp, key)
	if err != nil {
		return nil, p.failure(ctx, life, out.Method, err)
	}
	if life.Err() != nil {
		return nil, ErrClosed
	}
	p.core.trace(RPCDirectionReceive, reply)
	return reply, nil
}

func (p *postSession) Notify(ctx context.Context, msg *Message) error {
	life, err := p.ready()
	if err != nil {
		return err
	}
	out := *msg
	if out.JSONRPC == "" {
		out.JSONRPC = Version
	}
	p.core.trace(RPCDirectionSend, &out)
	ctx, unbind := bind(ctx, life)
	defer unbind()
	resp, err := p.post(ctx, &out)
	if err != nil {
		return p.failure(ctx, life, out.Method, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (p *postSession) post(ctx context.Context, msg *Message) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("mcptransport: encode %s: %w", msg.Method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "post", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "post", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		p.core.log.Warn("post transport HTTP error", "method", msg.Method, "status", resp.StatusCode)
		return nil, &TransportError{
			Op:         "post",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(text)),
		}
	}
	return resp, nil
}

// readReply extracts the response matching key from either a JSON body or an
// event-stream body.
func (p *postSession) readReply(resp *http.Response, key string) (*Message, error) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		scanner := newEventScanner(resp.Body)
		for {
			evt, err := scanner.next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil, &TransportError{Op: "read response", Err: fmt.Errorf("event stream ended without response %q", key)}
				}
				return nil, &TransportError{Op: "read response", Err: err}
			}
			if msg := matchReply(evt.data, key); msg != nil {
				return msg, nil
			}
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &TransportError{Op: "read response", Err: errors.New("empty response body")}
	}
	msgs, err := decodeFrame(body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: fmt.Errorf("decode response: %w", err)}
	}
	for _, msg := range msgs {
		if msg.IDKey() == key {
			return msg, nil
		}
	}
	// Servers that do not echo ids still answer the request they were sent.
	if len(msgs) == 1 && !msgs[0].HasID() && msgs[0].Method == "" {
		return msgs[0], nil
	}
	return nil, &TransportError{Op: "read response", Err: fmt.Errorf("no response with id %q", key)}
}

func matchReply(data []byte, key string) *Message {
	msgs, err := decodeFrame(data)
	if err != nil {
		return nil
	}
	for _, msg := range msgs {
		if msg.Method == "" && msg.IDKey() == key {
			return msg
		}
	}
	return nil
}

func (p *postSession) failure(ctx, life context.Context, method string, err error) error {
	if life.Err() != nil {
		return ErrClosed
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Op: "response", Method: method, After: p.core.opts.RequestTimeout, Cause: err}
	}
	return err
}

func (p *postSession) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.connected = false
	p.token = ""
	if p.stop != nil {
		p.stop()
	}
	return nil
}
