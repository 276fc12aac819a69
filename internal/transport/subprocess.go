package transport

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mapyr/mcp-hangar/internal/logs"
)

const stderrRingBufferLines = 64

// SubprocessLauncher spawns a child process and speaks newline-delimited
// JSON-RPC over its stdin/stdout, stderr captured to a ring buffer for
// diagnostics (spec §4.1 subprocess variant).
//
// Grounded on stdioMCPClient in cmd/docker-mcp/internal/mcp/stdio.go:
// exec.CommandContext + mcp.NewCommandTransport, with cmd.Stderr routed
// through a prefixing writer.
type SubprocessLauncher struct {
	Name        string
	Command     string
	Args        []string
	Env         []string
	GracePeriod time.Duration
	Verbose     bool

	mu    sync.Mutex
	cmd   *exec.Cmd
	ring  *logs.RingBuffer
	alive bool
}

// NewSubprocessLauncher builds a launcher for argv[0] with the remaining
// argv entries as arguments.
func NewSubprocessLauncher(name string, argv []string, env []string, gracePeriod time.Duration) *SubprocessLauncher {
	var args []string
	if len(argv) > 1 {
		args = argv[1:]
	}
	return &SubprocessLauncher{
		Name:        name,
		Command:     argv[0],
		Args:        args,
		Env:         env,
		GracePeriod: gracePeriod,
		ring:        logs.NewRingBuffer(stderrRingBufferLines),
	}
}

func (l *SubprocessLauncher) Launch(ctx context.Context) (mcp.Transport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cmd := exec.CommandContext(ctx, l.Command, l.Args...)
	if len(l.Env) > 0 {
		cmd.Env = l.Env
	}

	var writers []io.Writer
	writers = append(writers, l.ring.LineWriter())
	if l.Verbose {
		writers = append(writers, logs.NewPrefixer(os.Stderr, "- "+l.Name+": "))
	}
	cmd.Stderr = io.MultiWriter(writers...)

	l.cmd = cmd
	l.alive = true
	return mcp.NewCommandTransport(cmd), nil
}

func (l *SubprocessLauncher) Close(ctx context.Context) error {
	l.mu.Lock()
	cmd := l.cmd
	grace := l.GracePeriod
	l.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		l.mu.Lock()
		l.alive = false
		l.mu.Unlock()
		return err
	case <-time.After(grace):
	case <-ctx.Done():
	}

	_ = cmd.Process.Kill()
	err := <-done
	l.mu.Lock()
	l.alive = false
	l.mu.Unlock()
	return err
}

func (l *SubprocessLauncher) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive
}

func (l *SubprocessLauncher) Stderr() []string {
	return l.ring.Lines()
}
