package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
)

// ErrProcessExited fails requests to a stdio server whose process is gone.
var ErrProcessExited = errors.New("server process exited")

const (
	// stderrTailLines is how many trailing stderr lines an exit error carries.
	stderrTailLines = 5

	// exitGracePeriod lets a response written just before exit be read
	// from stdout before the request is failed.
	exitGracePeriod = 250 * time.Millisecond
)

// MergeEnv returns base with overrides applied. Later entries in base win
// over earlier ones, overrides win over base, and the result is sorted.
func MergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	return env
}

// stdioTransport owns the subprocess lifetime: the process is not bound to
// the context passed to Start, and Close kills it if it does not exit in time.
type stdioTransport struct {
	*mcptransport.Stdio

	logger       *zap.Logger
	closeTimeout time.Duration
	procCtx      context.Context
	kill         context.CancelFunc

	mu          sync.Mutex
	closing     bool
	startFailed bool
	onExit      func()
	drained     chan struct{}
	tail        []string

	// exited is closed once stderr reaches EOF.
	exited chan struct{}
}

func newStdioTransport(spec config.StdioSpec, closeTimeout time.Duration, logger *zap.Logger) *stdioTransport {
	procCtx, kill := context.WithCancel(context.Background())
	t := &stdioTransport{
		logger:       logger,
		closeTimeout: closeTimeout,
		procCtx:      procCtx,
		kill:         kill,
		exited:       make(chan struct{}),
	}

	env := MergeEnv(os.Environ(), spec.Env)
	t.Stdio = mcptransport.NewStdioWithOptions(spec.Command, nil, spec.Args,
		mcptransport.WithCommandFunc(func(_ context.Context, command string, _ []string, args []string) (*exec.Cmd, error) {
			cmd := exec.CommandContext(procCtx, command, args...)
			cmd.Env = env
			cmd.WaitDelay = closeTimeout
			return cmd, nil
		}),
		mcptransport.WithCommandLogger(zapPrintf{logger.Sugar()}),
	)
	return t
}

// Start spawns the subprocess and begins draining its stderr. Later calls
// are no-ops.
func (t *stdioTransport) Start(_ context.Context) error {
	t.mu.Lock()
	started := t.drained != nil
	t.mu.Unlock()
	if started {
		return nil
	}
	if err := t.Stdio.Start(t.procCtx); err != nil {
		t.mu.Lock()
		t.startFailed = true
		t.mu.Unlock()
		t.kill()
		return err
	}
	drained := make(chan struct{})
	t.mu.Lock()
	t.drained = drained
	t.mu.Unlock()
	go t.drainStderr(t.Stdio.Stderr(), drained)
	return nil
}

// drainStderr forwards the server's stderr to the log. EOF means the
// subprocess exited or closed stderr.
func (t *stdioTransport) drainStderr(r io.Reader, drained chan struct{}) {
	defer close(drained)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		t.logger.Info("stderr", zap.String("line", line))
		t.mu.Lock()
		t.tail = append(t.tail, line)
		if len(t.tail) > stderrTailLines {
			t.tail = t.tail[len(t.tail)-stderrTailLines:]
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	closing, onExit := t.closing, t.onExit
	t.mu.Unlock()
	if !closing {
		t.logger.Warn("Server process exited")
		if onExit != nil {
			onExit()
		}
	}
	close(t.exited)
}

// exitError describes the exit with the last lines the server logged.
func (t *stdioTransport) exitError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.tail) == 0 {
		return ErrProcessExited
	}
	return fmt.Errorf("%w: %s", ErrProcessExited, strings.Join(t.tail, " | "))
}

func (t *stdioTransport) hasExited() bool {
	select {
	case <-t.exited:
		return true
	default:
		return false
	}
}

// SendRequest fails the request once the process exits instead of waiting
// for a response that will never come.
func (t *stdioTransport) SendRequest(ctx context.Context, request mcptransport.JSONRPCRequest) (*mcptransport.JSONRPCResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		resp *mcptransport.JSONRPCResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := t.Stdio.SendRequest(ctx, request)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && t.hasExited() {
			return nil, t.exitError()
		}
		return r.resp, r.err
	case <-t.exited:
	}

	timer := time.NewTimer(exitGracePeriod)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil {
			return nil, t.exitError()
		}
		return r.resp, r.err
	case <-timer.C:
		return nil, t.exitError()
	}
}

// SendNotification implements transport.Interface
func (t *stdioTransport) SendNotification(ctx context.Context, notification mcp.JSONRPCNotification) error {
	if t.hasExited() {
		return t.exitError()
	}
	if err := t.Stdio.SendNotification(ctx, notification); err != nil {
		if t.hasExited() {
			return t.exitError()
		}
		return err
	}
	return nil
}

func (t *stdioTransport) setExitHandler(fn func()) {
	t.mu.Lock()
	t.onExit = fn
	t.mu.Unlock()
}

// Close closes stdin and waits for the process to exit, killing it after
// closeTimeout.
func (t *stdioTransport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	drained, startFailed := t.drained, t.startFailed
	t.mu.Unlock()

	// A failed start already released the pipes.
	if startFailed {
		t.kill()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- t.Stdio.Close() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(t.closeTimeout):
		t.logger.Warn("Server did not exit after stdin closed, killing it",
			zap.Duration("timeout", t.closeTimeout))
		t.kill()
		err = <-done
	}
	t.kill()
	if drained != nil {
		<-drained
	}
	if isExitAfterKill(err) {
		return nil
	}
	return err
}

// isExitAfterKill reports whether err only says the process did not exit
// cleanly, which is expected once it has been told to stop.
func isExitAfterKill(err error) bool {
	var exitErr *exec.ExitError
	return err == nil || errors.As(err, &exitErr) || errors.Is(err, context.Canceled) || errors.Is(err, os.ErrClosed)
}

// zapPrintf adapts a sugared logger to the mcp-go logger interface.
type zapPrintf struct {
	s *zap.SugaredLogger
}

func (z zapPrintf) Infof(format string, v ...any)  { z.s.Debugf(format, v...) }
func (z zapPrintf) Errorf(format string, v ...any) { z.s.Warnf(format, v...) }
