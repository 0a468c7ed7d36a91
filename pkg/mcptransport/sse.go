package mcptransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
)

// event is one server-sent event record.
type event struct {
	name string
	data []byte
}

// eventScanner reads server-sent events from a stream.
//
//   - `key: value` line records; a line without a colon is a key with an
//     empty value.
//   - Consecutive `data:` fields are joined with newlines.
//   - Lines starting with ":" are comments.
//   - Records are terminated by a blank line.
type eventScanner struct {
	sc *bufio.Scanner
}

func newEventScanner(r io.Reader) *eventScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &eventScanner{sc: sc}
}

func (s *eventScanner) next() (event, error) {
	var (
		evt     event
		hasData bool
	)
	for s.sc.Scan() {
		line := s.sc.Bytes()
		if len(line) == 0 {
			if evt.name != "" || hasData {
				return evt, nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte{':'})
		value = bytes.TrimPrefix(value, []byte{' '})
		switch string(field) {
		case "event":
			evt.name = strings.TrimSpace(string(value))
		case "data":
			if hasData {
				evt.data = slices.Concat(evt.data, []byte{'\n'}, value)
			} else {
				evt.data = append([]byte(nil), value...)
			}
			hasData = true
		}
	}
	if err := s.sc.Err(); err != nil {
		return evt, err
	}
	if evt.name != "" || hasData {
		return evt, nil
	}
	return evt, io.EOF
}

// sseSession is the event-stream binding: responses and notifications arrive
// on a long-lived GET, requests go out as POSTs to <origin>/messages.
type sseSession struct {
	*rpcCore
	cfg         *HTTPConfig
	client      *http.Client
	messagesURL string

	connectMu sync.Mutex

	mu        sync.Mutex
	connected bool
	closed    bool
	connID    string
	lastErr   error
	cancel    context.CancelFunc
}

func newSSESession(cfg *HTTPConfig, opts Options) (*sseSession, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("mcptransport: parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mcptransport: endpoint %q is not absolute", cfg.Endpoint)
	}
	return &sseSession{
		rpcCore:     newRPCCore(KindHTTP, opts),
		cfg:         cfg,
		client:      decorateHTTPClient(cfg, &sessionIDTracker{}),
		messagesURL: u.Scheme + "://" + u.Host + "/messages",
	}, nil
}

func (s *sseSession) Kind() Kind { return KindHTTP }

// ConnectionID returns the id learned from the stream, if any.
func (s *sseSession) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

func (s *sseSession) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.connected:
		s.mu.Unlock()
		return nil
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.lastErr = nil
	s.mu.Unlock()

	ready := make(chan error, 1)
	go s.readStream(streamCtx, ready)

	timer := time.NewTimer(s.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return err
		}
	case <-timer.C:
		cancel()
		s.mu.Lock()
		cause := s.lastErr
		s.mu.Unlock()
		return &TimeoutError{Op: "connection", After: s.opts.ConnectTimeout, Cause: cause}
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrClosed
	}
	s.connected = true
	connID := s.connID
	s.mu.Unlock()
	s.log.Info("event stream connected", "connection_id", connID)
	return nil
}

func (s *sseSession) readStream(ctx context.Context, ready chan<- error) {
	var once sync.Once
	settle := func(err error) { once.Do(func() { ready <- err }) }
	established := false

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint, nil)
	if err != nil {
		settle(&TransportError{Op: "open event stream", Err: err})
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := s.client.Do(req)
	if err != nil {
		settle(&TransportError{Op: "open event stream", Err: err})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		settle(&TransportError{
			Op:         "open event stream",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		})
		return
	}

	scanner := newEventScanner(resp.Body)
	for {
		evt, err := scanner.next()
		if err != nil {
			streamErr := &TransportError{Op: "event stream", Err: err}
			if errors.Is(err, io.EOF) {
				streamErr.Err = io.ErrUnexpectedEOF
			}
			if ctx.Err() != nil {
				streamErr.Err = ErrClosed
			}
			if !established {
				settle(streamErr)
			}
			s.streamEnded(streamErr)
			return
		}

		if !established {
			if id, ok := s.connectionIDFrom(evt); ok {
				s.mu.Lock()
				s.connID = id
				s.mu.Unlock()
				established = true
				settle(nil)
			}
		}
		if evt.name != "" && evt.name != "message" {
			continue
		}
		msgs, err := decodeFrame(evt.data)
		if err != nil {
			s.log.Debug("ignoring undecodable event", "event", evt.name, "error", err)
			continue
		}
		for _, msg := range msgs {
			s.dispatch(msg)
		}
	}
}

// connectionIDFrom recognizes the two establishment signals: a "connection"
// event with a connectionId, or a plain message flagged isAuthenticated that
// carries an id.
func (s *sseSession) connectionIDFrom(evt event) (string, bool) {
	var probe struct {
		ConnectionID    string          `json:"connectionId"`
		IsAuthenticated bool            `json:"isAuthenticated"`
		ID              json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(evt.data, &probe); err != nil {
		if evt.name == "connection" {
			s.recordErr(fmt.Errorf("mcptransport: parse connection event: %w", err))
		}
		return "", false
	}
	switch evt.name {
	case "connection":
		if probe.ConnectionID != "" {
			return probe.ConnectionID, true
		}
	case "", "message":
		if probe.IsAuthenticated {
			if id := idKey(probe.ID); id != "" {
				return id, true
			}
		}
	}
	return "", false
}

func (s *sseSession) recordErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *sseSession) streamEnded(err error) {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()
	s.pending.failAll(err)
	if wasConnected {
		s.log.Warn("event stream ended", "error", err)
	}
}

func (s *sseSession) Send(ctx context.Context, msg *Message) (*Message, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.roundTrip(ctx, msg, s.post)
}

func (s *sseSession) Notify(ctx context.Context, msg *Message) error {
	if err := s.ready(); err != nil {
		return err
	}
	out := *msg
	if out.JSONRPC == "" {
		out.JSONRPC = Version
	}
	s.trace(RPCDirectionSend, &out)
	return s.post(ctx, &out)
}

func (s *sseSession) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case !s.connected:
		return ErrNotConnected
	}
	return nil
}

func (s *sseSession) post(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mcptransport: encode %s: %w", msg.Method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.messagesURL, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: "post message", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if id := s.ConnectionID(); id != "" {
		req.Header.Set(connectionIDHeader, id)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return &TransportError{Op: "post message", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{
			Op:         "post message",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(text)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *sseSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	s.connID = ""
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.pending.failAll(ErrClosed)
	s.hub.Clear()
	return nil
}
