package mcptransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"
)

// stdioSession is the subprocess binding. Stdout carries newline-delimited
// JSON-RPC, stderr is logged.
type stdioSession struct {
	*rpcCore
	cfg *StdioConfig

	connectMu sync.Mutex
	writeMu   sync.Mutex

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected bool
	closed    bool
	exited    chan struct{}
	exitErr   error
}

func newStdioSession(cfg *StdioConfig, opts Options) *stdioSession {
	return &stdioSession{rpcCore: newRPCCore(KindStdio, opts), cfg: cfg}
}

func (s *stdioSession) Kind() Kind { return KindStdio }

func (s *stdioSession) Connect(ctx context.Context) error {
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
	s.mu.Unlock()

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = mergeEnv(os.Environ(), s.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &TransportError{Op: "spawn", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &TransportError{Op: "spawn", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &TransportError{Op: "spawn", Err: err}
	}

	s.log.Info("spawning process", "command", s.cfg.Command, "args", strings.Join(s.cfg.Args, " "))
	if err := cmd.Start(); err != nil {
		return &TransportError{Op: "spawn", Err: fmt.Errorf("failed to spawn process: %w", err)}
	}

	exited := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.exited = exited
	s.exitErr = nil
	s.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.readLoop(stdout)
	}()
	go func() {
		defer readers.Done()
		s.drainStderr(stderr)
	}()
	go func() {
		// Wait closes the pipes, so it must run after both readers finish.
		readers.Wait()
		waitErr := cmd.Wait()
		s.processExited(cmd, waitErr, exited)
	}()

	grace := time.NewTimer(s.opts.SpawnGrace)
	defer grace.Stop()
	select {
	case <-exited:
		s.mu.Lock()
		err := s.exitErr
		s.mu.Unlock()
		return fmt.Errorf("mcptransport: process exited during startup: %w", err)
	case <-ctx.Done():
		s.kill(cmd)
		return ctx.Err()
	case <-grace.C:
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.kill(cmd)
		return ErrClosed
	}
	s.connected = true
	s.mu.Unlock()
	s.log.Info("process spawned", "pid", cmd.Process.Pid)
	return nil
}

func (s *stdioSession) processExited(cmd *exec.Cmd, waitErr error, exited chan struct{}) {
	exitErr := &TransportError{Op: "process exit"}
	if state := cmd.ProcessState; state != nil {
		exitErr.ExitCode = state.ExitCode()
		if exitErr.ExitCode == -1 {
			exitErr.Signal = strings.TrimPrefix(state.String(), "signal: ")
		}
	}
	var ee *exec.ExitError
	switch {
	case waitErr != nil && !errors.As(waitErr, &ee):
		exitErr.Err = waitErr
	case exitErr.ExitCode == 0 && exitErr.Signal == "":
		exitErr.Err = errors.New("process exited")
	}

	s.mu.Lock()
	wasConnected := s.connected
	closing := s.closed
	s.connected = false
	s.exitErr = exitErr
	s.mu.Unlock()
	close(exited)

	s.pending.failAll(exitErr)
	if wasConnected && !closing {
		s.log.Warn("process exited", "code", exitErr.ExitCode, "signal", exitErr.Signal)
	}
}

// readLoop scans stdout. Only trimmed lines starting with '{' or '[' are
// considered protocol data; everything else is the child's own chatter.
func (s *stdioSession) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		s.handleLine(sc.Bytes())
	}
	if err := sc.Err(); err != nil {
		s.log.Warn("stdout read failed", "error", err)
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *stdioSession) handleLine(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		s.log.Debug("non-JSON output", "line", string(trimmed))
		return
	}
	msgs, err := decodeFrame(trimmed)
	if err != nil {
		s.log.Warn("failed to parse JSON line", "line", truncate(string(trimmed), 100), "error", err)
		return
	}
	for _, msg := range msgs {
		if !msg.looksLikeRPC() {
			s.log.Warn("ignoring non-JSON-RPC message", "line", truncate(string(trimmed), 100))
			continue
		}
		s.dispatch(msg)
	}
}

func (s *stdioSession) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			s.log.Debug("stderr", "line", line)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

func (s *stdioSession) Send(ctx context.Context, msg *Message) (*Message, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.roundTrip(ctx, msg, s.write)
}

func (s *stdioSession) Notify(ctx context.Context, msg *Message) error {
	if err := s.ready(); err != nil {
		return err
	}
	out := *msg
	if out.JSONRPC == "" {
		out.JSONRPC = Version
	}
	s.trace(RPCDirectionSend, &out)
	return s.write(ctx, &out)
}

func (s *stdioSession) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.exitErr != nil:
		return s.exitErr
	case !s.connected:
		return ErrNotConnected
	}
	return nil
}

func (s *stdioSession) write(_ context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mcptransport: encode %s: %w", msg.Method, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := stdin.Write(data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Close closes stdin, sends SIGTERM and kills the child if it has not exited
// within KillTimeout.
func (s *stdioSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	cmd, stdin, exited := s.cmd, s.stdin, s.exited
	s.mu.Unlock()

	s.pending.failAll(ErrClosed)
	s.hub.Clear()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	select {
	case <-exited:
		return nil
	default:
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}
	select {
	case <-exited:
		return nil
	case <-time.After(s.opts.KillTimeout):
	}
	s.kill(cmd)
	select {
	case <-exited:
	case <-time.After(s.opts.KillTimeout):
		return &TransportError{Op: "close", Err: errors.New("process did not exit after kill")}
	}
	return nil
}

func (s *stdioSession) kill(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
