// Package mcptest provides a line-delimited JSON-RPC echo server that test
// binaries can re-exec themselves into, so stdio sessions can be exercised
// against a real child process.
package mcptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EnvVar selects helper behavior when set in a re-executed test binary.
const EnvVar = "MCPTEST_HELPER_MODE"

const (
	// ModeEcho serves requests until stdin closes.
	ModeEcho = "echo"
	// ModeExit exits with status 3 before reading anything.
	ModeExit = "exit"
	// ModeNoHandshake answers initialize with method-not-found.
	ModeNoHandshake = "no-handshake"
)

// Main turns the current process into the helper when EnvVar is set. Call it
// first thing in TestMain; it returns only when the process is a normal test
// run.
func Main() {
	mode := os.Getenv(EnvVar)
	if mode == "" {
		return
	}
	if mode == ModeExit {
		fmt.Fprintln(os.Stderr, "helper exiting on request")
		os.Exit(3)
	}
	Serve(os.Stdin, os.Stdout, mode)
	os.Exit(0)
}

// Command returns the command and environment that re-execute the running
// test binary as a helper in mode.
func Command(mode string) (string, []string, map[string]string) {
	return os.Args[0], []string{"-test.run=^$"}, map[string]string{EnvVar: mode}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Serve answers requests read from r on w. It supports:
//
//	initialize         -> serverInfo {name: "echo", version: "0.1.0"}
//	tools/list         -> {"tools": []}
//	tools/call         -> text content echoing the tool name
//	resources/list     -> one resource "mem://greeting"
//	resources/read     -> text contents for the requested uri
//	prompts/list       -> one prompt "greet"
//	prompts/get        -> a single user message
//	echo               -> params as result
//	delay              -> params {"ms": n}; replies after n milliseconds
//	fail               -> error -32000 "boom"
//	notify-me          -> emits notifications/message before replying
//	raw-x              -> prints a non-JSON line and then a bare reply with id "x"
//
// Unknown methods get -32601. Messages without an id are ignored.
func Serve(r io.Reader, w io.Writer, mode string) {
	var mu sync.Mutex
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
	reply := func(id json.RawMessage, result any) {
		b, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
		emit(string(b))
	}
	fail := func(id json.RawMessage, code int, msg string) {
		b, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": msg}})
		emit(string(b))
	}

	emit("echo helper starting")

	var wg sync.WaitGroup
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var req request
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			fmt.Fprintf(os.Stderr, "bad request: %v\n", err)
			continue
		}
		if len(req.ID) == 0 {
			continue
		}
		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			switch req.Method {
			case "initialize":
				if mode == ModeNoHandshake {
					fail(req.ID, -32601, "Method not found")
					return
				}
				reply(req.ID, map[string]any{
					"protocolVersion": "2024-11-05",
					"capabilities":    map[string]any{"tools": map[string]any{}},
					"serverInfo":      map[string]any{"name": "echo", "version": "0.1.0"},
				})
			case "tools/list":
				reply(req.ID, map[string]any{"tools": []any{}})
			case "tools/call":
				var p struct {
					Name string `json:"name"`
				}
				_ = json.Unmarshal(req.Params, &p)
				reply(req.ID, map[string]any{
					"content": []any{map[string]any{"type": "text", "text": "called " + p.Name}},
				})
			case "resources/list":
				reply(req.ID, map[string]any{"resources": []any{
					map[string]any{"uri": "mem://greeting", "name": "greeting"},
				}})
			case "resources/read":
				var p struct {
					URI string `json:"uri"`
				}
				_ = json.Unmarshal(req.Params, &p)
				reply(req.ID, map[string]any{"contents": []any{
					map[string]any{"uri": p.URI, "text": "hello from " + p.URI},
				}})
			case "prompts/list":
				reply(req.ID, map[string]any{"prompts": []any{map[string]any{"name": "greet"}}})
			case "prompts/get":
				reply(req.ID, map[string]any{"messages": []any{
					map[string]any{"role": "user", "content": map[string]any{"type": "text", "text": "hi"}},
				}})
			case "echo":
				reply(req.ID, req.Params)
			case "delay":
				var p struct {
					MS int `json:"ms"`
				}
				_ = json.Unmarshal(req.Params, &p)
				time.Sleep(time.Duration(p.MS) * time.Millisecond)
				reply(req.ID, req.Params)
			case "fail":
				fail(req.ID, -32000, "boom")
			case "notify-me":
				emit(`{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"hello"}}`)
				reply(req.ID, map[string]any{})
			case "raw-x":
				emit("not-json-at-all")
				emit(`{"not":"rpc"}`)
				emit(`{"jsonrpc":"2.0","id":"x","result":{}}`)
			default:
				if strings.HasPrefix(req.Method, "notifications/") {
					return
				}
				fail(req.ID, -32601, "Method not found: "+req.Method)
			}
		}(req)
	}
	wg.Wait()
}
