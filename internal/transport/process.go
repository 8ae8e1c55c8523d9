package transport

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/utkarsh5026/bulkload/internal/cpu"
	"github.com/utkarsh5026/bulkload/internal/protocol"
)

// sendQueueSize bounds the requests buffered for a child that is not reading.
const sendQueueSize = 16

// Process spawns each worker as a child OS process running the worker
// command. Requests go to the child's stdin and responses come back on its
// stdout; the child's stderr is passed through for its logs.
type Process struct {
	path     string
	args     []string
	env      []string
	affinity bool
	stderr   io.Writer
	logger   *log.Entry
}

// ProcessOption configures a Process spawner.
type ProcessOption func(*Process)

// WithCommand overrides the worker binary and its arguments. By default the
// running executable is re-invoked with the "worker" subcommand.
func WithCommand(path string, args ...string) ProcessOption {
	return func(p *Process) {
		p.path = path
		p.args = args
	}
}

// WithEnv adds KEY=VALUE pairs to every child's environment, on top of the
// coordinator's own.
func WithEnv(env ...string) ProcessOption {
	return func(p *Process) {
		p.env = append(p.env, env...)
	}
}

// WithAffinity pins child i to CPU i (modulo the CPUs available).
func WithAffinity(enabled bool) ProcessOption {
	return func(p *Process) {
		p.affinity = enabled
	}
}

// WithStderr redirects the children's stderr. Defaults to os.Stderr.
func WithStderr(w io.Writer) ProcessOption {
	return func(p *Process) {
		p.stderr = w
	}
}

func NewProcess(opts ...ProcessOption) (*Process, error) {
	p := &Process{
		args:   []string{"worker"},
		stderr: os.Stderr,
		logger: log.WithField("component", "transport"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.path == "" {
		path, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "locating worker executable")
		}
		p.path = path
	}
	return p, nil
}

func (p *Process) Spawn(_ context.Context, id int, ev Events) (Conn, error) {
	// Not CommandContext: the child outlives the spawn call and is only ended by Kill.
	cmd := exec.Command(p.path, p.args...)
	cmd.Env = append(os.Environ(), p.env...)
	cmd.Env = append(cmd.Env, WorkerIDEnv+"="+strconv.Itoa(id))
	cmd.Stderr = p.stderr
	setSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting worker %d", id)
	}

	logger := p.logger.WithFields(log.Fields{"worker": id, "pid": cmd.Process.Pid})
	if p.affinity {
		if err := cpu.PinProcess(cmd.Process.Pid, id); err != nil {
			logger.WithError(err).Warn("could not pin worker to a cpu")
		}
	}

	c := &processConn{
		cmd:    cmd,
		enc:    protocol.NewEncoder(stdin),
		queue:  make(chan protocol.Request, sendQueueSize),
		exited: make(chan struct{}),
		logger: logger,
	}
	go c.writeLoop()
	go c.readLoop(stdout, ev)
	return c, nil
}

// processConn owns one child. Only writeLoop writes to the child's stdin, so a
// child that stops reading stalls the queue, never a caller of Send.
type processConn struct {
	cmd       *exec.Cmd
	enc       *protocol.Encoder
	queue     chan protocol.Request
	exited    chan struct{}
	logger    *log.Entry
	connected atomic.Bool
}

func (c *processConn) writeLoop() {
	for {
		select {
		case req := <-c.queue:
			if err := c.enc.Encode(req); err != nil {
				// A partial write leaves the stream unusable.
				c.logger.WithError(err).Warn("writing request to worker failed; killing it")
				_ = c.Kill()
				return
			}
		case <-c.exited:
			return
		}
	}
}

func (c *processConn) readLoop(stdout io.Reader, ev Events) {
	dec := protocol.NewDecoder(stdout)
	for {
		resp, err := dec.DecodeResponse()
		if err != nil {
			if err != io.EOF {
				c.connected.Store(false)
				ev.error(err)
				// A corrupt stream cannot be resynchronized.
				_ = c.Kill()
				_, _ = io.Copy(io.Discard, stdout)
			}
			break
		}
		if resp.Ready {
			c.connected.Store(true)
			ev.ready()
			continue
		}
		ev.message(resp)
	}

	waitErr := c.cmd.Wait()
	c.connected.Store(false)
	close(c.exited)
	ev.exit(exitStatus(c.cmd.ProcessState, waitErr))
}

func (c *processConn) Send(ctx context.Context, req protocol.Request) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	select {
	case c.queue <- req:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-c.exited:
		return ErrNotConnected
	}
}

func (c *processConn) Connected() bool {
	return c.connected.Load()
}

func (c *processConn) Kill() error {
	c.connected.Store(false)
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.WithStack(err)
	}
	return nil
}

func (c *processConn) PID() int {
	return c.cmd.Process.Pid
}

func exitStatus(state *os.ProcessState, waitErr error) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1, Err: waitErr}
	}
	status := ExitStatus{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal().String()
	}
	return status
}
