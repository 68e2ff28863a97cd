package engine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/vytor/ucibridge/internal/errors"
	"github.com/vytor/ucibridge/internal/logger"
	"github.com/vytor/ucibridge/internal/metrics"
	"github.com/vytor/ucibridge/internal/uci"
)

// State is the lifecycle state of a Session.
type State int32

const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultGracePeriod bounds how long Stop waits for the engine to exit
// after quit before killing it.
const DefaultGracePeriod = 5 * time.Second

// quitTimeout bounds how long Stop waits to deliver quit behind a write
// stuck on a full input pipe.
const quitTimeout = time.Second

var (
	// ErrClosed is returned by reads once the output stream has ended.
	ErrClosed = errors.New("engine output closed")
	// ErrNotRunning is returned by reads on a session that is not running.
	ErrNotRunning = errors.New("engine session not running")
)

// Channel is the line-oriented command/response link to one engine.
// It is not reentrant: callers serialise access (see Analyzer).
type Channel interface {
	ID() string
	Send(command string) error
	ReadLine(ctx context.Context) (string, error)
	ReadUntil(ctx context.Context, token string, timeout time.Duration) (string, error)
}

// Session owns an engine process and its stdin/stdout pipes.
type Session struct {
	path  string
	args  []string
	grace time.Duration
	log   *logger.Logger

	mu     sync.Mutex
	state  State
	id     string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	wmu   sync.Mutex // serialises writes so lines never interleave
	lines chan string
	done  chan struct{}

	errMu   sync.Mutex
	readErr error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithArgs passes extra command-line arguments to the engine.
func WithArgs(args ...string) SessionOption {
	return func(s *Session) {
		s.args = append([]string(nil), args...)
	}
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) SessionOption {
	return func(s *Session) {
		s.grace = d
	}
}

// WithLogger sets the session logger.
func WithLogger(l *logger.Logger) SessionOption {
	return func(s *Session) {
		s.log = l
	}
}

// NewSession prepares a session for the engine at path without starting it.
func NewSession(path string, opts ...SessionOption) *Session {
	s := &Session{
		path:  path,
		grace: DefaultGracePeriod,
		log:   logger.Default().WithPrefix("engine"),
		id:    "?",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the engine at path and returns the running session.
func Start(path string, opts ...SessionOption) (*Session, error) {
	s := NewSession(path, opts...)
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Attach wraps already-open streams as a running session with no process.
// r is the engine's output, w its input.
func Attach(id string, r io.ReadCloser, w io.WriteCloser, opts ...SessionOption) *Session {
	s := NewSession("", opts...)
	s.id = id
	s.log = s.log.WithField("session", id)
	s.run(r, w)
	return s
}

// Start spawns the process. On failure the session stays NotStarted.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != NotStarted {
		return apperrors.NewStartError(s.path, errors.New("session already "+s.state.String()))
	}

	s.log.Info("starting engine: %s", s.path)
	cmd := exec.Command(s.path, s.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.log.Error("failed to create stdin pipe: %v", err)
		return apperrors.NewStartError(s.path, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.log.Error("failed to create stdout pipe: %v", err)
		stdin.Close()
		return apperrors.NewStartError(s.path, err)
	}
	if err := cmd.Start(); err != nil {
		s.log.Error("failed to start engine: %v", err)
		stdin.Close()
		stdout.Close()
		return apperrors.NewStartError(s.path, err)
	}

	s.cmd = cmd
	s.id = strconv.Itoa(cmd.Process.Pid)
	s.log = s.log.WithField("session", s.id)
	s.runLocked(stdout, stdin)
	s.log.Info("engine process started")
	return nil
}

func (s *Session) run(r io.ReadCloser, w io.WriteCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runLocked(r, w)
}

func (s *Session) runLocked(r io.ReadCloser, w io.WriteCloser) {
	s.stdin = w
	s.stdout = r
	s.lines = make(chan string, 256)
	s.done = make(chan struct{})
	s.state = Running
	metrics.SessionsRunning.Inc()
	go s.pump(bufio.NewReader(r), s.lines, s.done)
}

// pump is the only reader of the engine's output.
func (s *Session) pump(r *bufio.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.setReadErr(err)
			}
			return
		}
	}
}

func (s *Session) setReadErr(err error) {
	s.errMu.Lock()
	s.readErr = err
	s.errMu.Unlock()
}

func (s *Session) closedErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.readErr != nil {
		return s.readErr
	}
	return ErrClosed
}

// ID is the engine's process id, or the id given to Attach.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send writes one command line. A session that is not running drops the
// write without error, including one stopped while the write was under way.
func (s *Session) Send(command string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	state, w, log := s.state, s.stdin, s.log
	s.mu.Unlock()

	if state != Running || w == nil {
		log.Debug("dropping command on %s session: %s", state, command)
		return nil
	}
	log.Debug("-> %s", command)
	if _, err := io.WriteString(w, command+"\n"); err != nil {
		if state := s.State(); state != Running {
			log.Debug("dropping command on %s session: %s", state, command)
			return nil
		}
		return apperrors.NewChannelError("write", err)
	}
	return nil
}

// ReadLine blocks for the next output line. It fails with a CHANNEL_ERROR
// once the stream is closed or the session stops.
func (s *Session) ReadLine(ctx context.Context) (string, error) {
	s.mu.Lock()
	lines := s.lines
	s.mu.Unlock()
	if lines == nil {
		return "", apperrors.NewChannelError("read", ErrNotRunning)
	}

	select {
	case line, ok := <-lines:
		if !ok {
			return "", apperrors.NewChannelError("read", s.closedErr())
		}
		s.log.Debug("<- %s", line)
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ReadUntil sends isready and collects output until a line starting with
// token (case-insensitive), which is included. On failure or timeout the
// text read so far is returned with the error. A zero timeout waits for
// ctx alone.
func (s *Session) ReadUntil(ctx context.Context, token string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var sb strings.Builder
	if err := s.Send(uci.IsReady); err != nil {
		return "", err
	}
	for {
		line, err := s.ReadLine(ctx)
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
		if uci.HasPrefixFold(line, token) {
			return sb.String(), nil
		}
	}
}

// Stop sends quit, closes both streams and waits up to the grace period
// for the process to exit before killing it. Stopping a session that never
// started, or one already stopped, does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	cmd, stdin, stdout, done := s.cmd, s.stdin, s.stdout, s.done
	s.mu.Unlock()
	metrics.SessionsRunning.Dec()

	s.log.Debug("stopping engine")
	s.sendQuit(stdin)
	close(done)
	if err := stdin.Close(); err != nil {
		s.log.Debug("closing stdin: %v", err)
	}
	if err := stdout.Close(); err != nil {
		s.log.Debug("closing stdout: %v", err)
	}

	if cmd == nil {
		s.log.Info("engine session stopped")
		return
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		if err != nil {
			s.log.Debug("engine process exited: %v", err)
		} else {
			s.log.Debug("engine process exited cleanly")
		}
	case <-time.After(s.grace):
		s.log.Warn("engine did not exit within %v, killing it", s.grace)
		metrics.ForcedKillsTotal.Inc()
		if err := cmd.Process.Kill(); err != nil {
			s.log.Error("failed to kill engine: %v", err)
		}
		<-exited
	}
	s.log.Info("engine session stopped")
}

// sendQuit writes quit unless another write holds the pipe past the
// deadline. Closing stdin afterwards releases both writers.
func (s *Session) sendQuit(stdin io.Writer) {
	timeout := quitTimeout
	if s.grace > 0 {
		timeout = min(timeout, s.grace)
	}
	sent := make(chan error, 1)
	go func() {
		s.wmu.Lock()
		defer s.wmu.Unlock()
		s.log.Debug("-> %s", uci.Quit)
		_, err := io.WriteString(stdin, uci.Quit+"\n")
		sent <- err
	}()

	select {
	case err := <-sent:
		if err != nil {
			s.log.Debug("quit not delivered: %v", err)
		}
	case <-time.After(timeout):
		s.log.Warn("quit not delivered within %v, closing streams", timeout)
	}
}
