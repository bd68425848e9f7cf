// Package supervisor owns the lifecycle of a spawned preview server
// process: sandboxed argument construction, an allow-listed environment,
// stdout event parsing, and graceful termination.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/livepreview/previewd/internal/protocol"
)

// State tracks where the supervised process is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:     "idle",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateFailed:   "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// SpawnError reports that the preview process could not be started.
type SpawnError struct {
	Detail string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("spawn preview server: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("spawn preview server: %s", e.Detail)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessExitError reports an unexpected exit of a running preview process.
type ProcessExitError struct {
	Code int
}

func (e *ProcessExitError) Error() string {
	return fmt.Sprintf("preview server exited with code %d", e.Code)
}

// Options configures one supervised process.
type Options struct {
	// Command is the runtime binary, normally "deno".
	Command string
	// ScriptPath is the server script handed to the runtime.
	ScriptPath string
	// Root is the project root the process may read.
	Root string
	// Port is the loopback port the process may bind.
	Port int
	// Host is the bind host, used only for logging.
	Host string
	// TargetFile is exported to the child as its entry document.
	TargetFile string
	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration

	// OnOutput receives every stdout and stderr line verbatim.
	OnOutput func(line string)
	// OnExit is called once when a process that reached Running dies
	// without Stop having been requested.
	OnExit func(err error)
}

// BuildArgs constructs the sandboxed runtime invocation. Network access
// is restricted to the loopback port, filesystem reads to the project
// root, and environment reads to the preview variables.
func BuildArgs(scriptPath, root string, port int) []string {
	return []string{
		"run",
		"--no-prompt",
		fmt.Sprintf("--allow-net=127.0.0.1:%d", port),
		fmt.Sprintf("--allow-read=%s", root),
		fmt.Sprintf("--allow-env=%s,%s,%s", protocol.EnvPort, protocol.EnvFlag, protocol.EnvFile),
		scriptPath,
	}
}

// BuildEnv constructs the child environment from an allow-list rather
// than inheriting the parent wholesale. PATH and HOME pass through so
// the runtime can locate itself and its module cache.
func BuildEnv(port int, targetFile string) []string {
	env := []string{
		fmt.Sprintf("%s=%d", protocol.EnvPort, port),
		fmt.Sprintf("%s=1", protocol.EnvFlag),
		fmt.Sprintf("%s=%s", protocol.EnvFile, targetFile),
	}
	for _, key := range []string{"PATH", "HOME", "TMPDIR"} {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	return env
}

// Supervisor runs a single preview server process at a time.
type Supervisor struct {
	opts Options

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	stopping bool

	ready chan int
	done  chan struct{}
}

func New(opts Options) *Supervisor {
	if opts.Command == "" {
		opts.Command = "deno"
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 500 * time.Millisecond
	}
	return &Supervisor{opts: opts, state: StateIdle}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the child's process id, or 0 when nothing is running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Ready yields the port announced by the child's listening event. The
// channel is closed without a value if the process dies first.
func (s *Supervisor) Ready() <-chan int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Start spawns the process. It returns a SpawnError when the runtime is
// missing or cannot be launched; readiness is reported asynchronously
// through Ready.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateFailed {
		s.mu.Unlock()
		return &SpawnError{Detail: fmt.Sprintf("process already %s", s.state)}
	}

	if _, err := exec.LookPath(s.opts.Command); err != nil {
		s.state = StateFailed
		s.mu.Unlock()
		return &SpawnError{Detail: fmt.Sprintf("runtime %q not found", s.opts.Command), Err: err}
	}

	args := BuildArgs(s.opts.ScriptPath, s.opts.Root, s.opts.Port)
	cmd := exec.CommandContext(ctx, s.opts.Command, args...)
	// Context cancellation gets the same polite treatment as Stop: the
	// child's SIGTERM handler must run so it can close client sockets.
	// Only after the grace period does the runtime get killed.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.opts.GracePeriod
	cmd.Env = BuildEnv(s.opts.Port, s.opts.TargetFile)
	cmd.Dir = s.opts.Root

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.state = StateFailed
		s.mu.Unlock()
		return &SpawnError{Detail: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.state = StateFailed
		s.mu.Unlock()
		return &SpawnError{Detail: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		s.state = StateFailed
		s.mu.Unlock()
		return &SpawnError{Detail: "start process", Err: err}
	}

	s.cmd = cmd
	s.state = StateStarting
	s.stopping = false
	s.ready = make(chan int, 1)
	s.done = make(chan struct{})
	ready := s.ready
	s.mu.Unlock()

	log.Printf("supervisor: spawned %s pid=%d port=%d", s.opts.Command, cmd.Process.Pid, s.opts.Port)

	var readyOnce sync.Once
	signalReady := func(port int) {
		readyOnce.Do(func() {
			s.mu.Lock()
			if s.state == StateStarting {
				s.state = StateRunning
			}
			s.mu.Unlock()
			ready <- port
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			s.emitOutput(line)
			if ev, ok := protocol.ParseStdoutEvent(line); ok {
				switch ev.Event {
				case protocol.EventListening:
					signalReady(ev.Port)
				case protocol.EventError:
					log.Printf("supervisor: child error: %s", ev.Message)
				}
				continue
			}
			// User-authored servers announce readiness in prose.
			if strings.Contains(line, protocol.LegacyReadyMarker) {
				signalReady(s.opts.Port)
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.emitOutput(scanner.Text())
		}
	}()

	go func() {
		wg.Wait()
		err := cmd.Wait()
		s.finish(err, ready, &readyOnce)
	}()

	return nil
}

func (s *Supervisor) emitOutput(line string) {
	if s.opts.OnOutput != nil {
		s.opts.OnOutput(line)
	}
}

func (s *Supervisor) finish(waitErr error, ready chan int, readyOnce *sync.Once) {
	s.mu.Lock()
	wasStopping := s.stopping
	s.cmd = nil
	if wasStopping {
		s.state = StateIdle
	} else {
		s.state = StateFailed
	}
	done := s.done
	s.mu.Unlock()

	readyOnce.Do(func() { close(ready) })
	close(done)

	if wasStopping {
		log.Printf("supervisor: process stopped")
		return
	}

	code := 0
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if waitErr != nil {
		code = -1
	}
	exitErr := &ProcessExitError{Code: code}
	log.Printf("supervisor: %v", exitErr)
	if s.opts.OnExit != nil {
		s.opts.OnExit(exitErr)
	}
}

// Stop terminates the process, first politely and then with force. It
// blocks until the process has been reaped. Stopping an idle supervisor
// is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.cmd == nil || s.cmd.Process == nil {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.state = StateStopping
	proc := s.cmd.Process
	done := s.done
	s.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(s.opts.GracePeriod):
		log.Printf("supervisor: grace period expired, killing pid=%d", proc.Pid)
		_ = proc.Kill()
		<-done
	}
}
