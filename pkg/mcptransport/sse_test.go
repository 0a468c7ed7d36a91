package mcptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeEventServer speaks the event-stream binding: GET /sse streams events,
// POST /messages queues replies onto the stream.
type fakeEventServer struct {
	t          *testing.T
	greeting   string
	events     chan string
	streamDone chan struct{}
	once       sync.Once

	mu      sync.Mutex
	connIDs []string
}

func newFakeEventServer(t *testing.T, greeting string) (*fakeEventServer, *httptest.Server) {
	f := &fakeEventServer{t: t, greeting: greeting, events: make(chan string, 16), streamDone: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", f.stream)
	mux.HandleFunc("/messages", f.message)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeEventServer) stream(w http.ResponseWriter, r *http.Request) {
	defer f.once.Do(func() { close(f.streamDone) })
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	fmt.Fprint(w, ": keepalive\n\n")
	if f.greeting != "" {
		fmt.Fprint(w, f.greeting)
	}
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-f.events:
			fmt.Fprint(w, evt)
			flusher.Flush()
		}
	}
}

func (f *fakeEventServer) message(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.connIDs = append(f.connIDs, r.Header.Get("X-Connection-ID"))
	f.mu.Unlock()

	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	if !msg.HasID() {
		return
	}
	if msg.Method == "notify-me" {
		f.events <- "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/tools/list_changed\"}\n\n"
	}
	if msg.Method == "slow" {
		go func() {
			time.Sleep(150 * time.Millisecond)
			f.events <- fmt.Sprintf("data: {\"jsonrpc\":\"2.0\",\"id\":%s,\"result\":{\"m\":\"slow\"}}\n\n", msg.ID)
		}()
		return
	}
	f.events <- fmt.Sprintf("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":%s,\n", msg.ID) +
		fmt.Sprintf("data: \"result\":{\"m\":%q}}\n\n", msg.Method)
}

func (f *fakeEventServer) seenConnIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connIDs...)
}

func TestSSEConnectionEventAndCorrelation(t *testing.T) {
	t.Parallel()

	f, srv := newFakeEventServer(t, "event: connection\ndata: {\"connectionId\":\"conn-1\"}\n\n")
	s, err := New(&HTTPConfig{Endpoint: srv.URL + "/sse"}, &Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if id := s.(*sseSession).ConnectionID(); id != "conn-1" {
		t.Fatalf("ConnectionID() = %q", id)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, method := range []string{"slow", "fast"} {
		wg.Add(1)
		go func(method string) {
			defer wg.Done()
			msg, _ := NewRequest(method, nil)
			resp, err := s.Send(ctx, msg)
			if err != nil {
				errs <- err
				return
			}
			var res struct{ M string }
			if err := json.Unmarshal(resp.Result, &res); err != nil || res.M != method {
				errs <- fmt.Errorf("%s got result %s", method, resp.Result)
			}
		}(method)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	for _, id := range f.seenConnIDs() {
		if id != "conn-1" {
			t.Fatalf("POST carried X-Connection-ID %q", id)
		}
	}
}

func TestSSEAuthenticatedMessageEstablishes(t *testing.T) {
	t.Parallel()

	_, srv := newFakeEventServer(t, "data: {\"isAuthenticated\":true,\"id\":17}\n\n")
	s, err := New(&HTTPConfig{Endpoint: srv.URL + "/sse"}, &Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if id := s.(*sseSession).ConnectionID(); id != "17" {
		t.Fatalf("ConnectionID() = %q", id)
	}
}

func TestSSENotifications(t *testing.T) {
	t.Parallel()

	_, srv := newFakeEventServer(t, "event: connection\ndata: {\"connectionId\":\"c\"}\n\n")
	s, err := New(&HTTPConfig{Endpoint: srv.URL + "/sse"}, &Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	got := make(chan string, 1)
	s.OnNotification(func(m *Message) { got <- m.Method })
	msg, _ := NewRequest("notify-me", nil)
	if _, err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case m := <-got:
		if m != "notifications/tools/list_changed" {
			t.Fatalf("notification = %q", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("notification not delivered")
	}
}

func TestSSEConnectTimeoutClosesStream(t *testing.T) {
	t.Parallel()

	f, srv := newFakeEventServer(t, "data: {\"hello\":\"world\"}\n\n")
	s, err := New(&HTTPConfig{Endpoint: srv.URL + "/sse"}, &Options{
		Logger:         quietLogger(),
		ConnectTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	err = s.Connect(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Connect error = %v, want timeout", err)
	}
	select {
	case <-f.streamDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("event stream was not closed after timeout")
	}
}

func TestSSEHTTPErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s, err := New(&HTTPConfig{Endpoint: srv.URL + "/sse"}, &Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.Connect(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Connect error = %v, want 401 TransportError", err)
	}
	if !strings.Contains(err.Error(), "bad token") {
		t.Fatalf("error %q lacks body", err)
	}
}

func TestSSECloseFailsPending(t *testing.T) {
	t.Parallel()

	_, srv := newFakeEventServer(t, "event: connection\ndata: {\"connectionId\":\"c\"}\n\n")
	s, err := New(&HTTPConfig{Endpoint: srv.URL + "/sse"}, &Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		// No reply is ever queued for notifications-style ids, so this waits.
		msg, _ := NewRequest("slow", nil)
		msg.ID = StringID("never")
		_, err := s.Send(context.Background(), msg)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	_ = s.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Send succeeded after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Send hung after Close")
	}
}

func TestEventScanner(t *testing.T) {
	t.Parallel()

	input := ": comment\nevent: connection\ndata: {\"a\":\ndata: 1}\n\nretry\ndata: x\n\n"
	sc := newEventScanner(strings.NewReader(input))
	evt, err := sc.next()
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if evt.name != "connection" || string(evt.data) != "{\"a\":\n1}" {
		t.Fatalf("first event = %q %q", evt.name, evt.data)
	}
	evt, err = sc.next()
	if err != nil || string(evt.data) != "x" {
		t.Fatalf("second event = %q, %v", evt.data, err)
	}
	if _, err := sc.next(); err == nil {
		t.Fatalf("expected EOF")
	}
}
