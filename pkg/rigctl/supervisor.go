package rigctl

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rigranger/rigrangerd/pkg/logging"
)

// DaemonState tracks the rigctld process lifecycle.
type DaemonState int

const (
	DaemonNotStarted DaemonState = iota
	DaemonStarting
	DaemonRunning
	DaemonStopping
	DaemonStopped
	DaemonFailed
)

// String returns the daemon state name.
func (s DaemonState) String() string {
	switch s {
	case DaemonNotStarted:
		return "not_started"
	case DaemonStarting:
		return "starting"
	case DaemonRunning:
		return "running"
	case DaemonStopping:
		return "stopping"
	case DaemonStopped:
		return "stopped"
	case DaemonFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// rigctldSearchPaths are the platform-known install locations checked after
// the explicit override and $PATH.
func rigctldSearchPaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\Hamlib\bin\rigctld.exe`,
			`C:\Program Files (x86)\Hamlib\bin\rigctld.exe`,
		}
	case "darwin":
		return []string{
			"/usr/local/bin/rigctld",
			"/opt/homebrew/bin/rigctld",
		}
	default:
		return []string{
			"/usr/bin/rigctld",
			"/usr/local/bin/rigctld",
		}
	}
}

// FindRigctld locates the rigctld binary: explicit override first, then
// $PATH, then the platform-known install locations.
func FindRigctld(override string) (string, error) {
	if override != "" {
		if isExecutable(override) {
			return override, nil
		}
		return "", fmt.Errorf("%w: %s is not an executable file", ErrDaemonNotFound, override)
	}

	if path, err := exec.LookPath("rigctld"); err == nil {
		return path, nil
	}

	for _, path := range rigctldSearchPaths() {
		if isExecutable(path) {
			return path, nil
		}
	}

	return "", ErrDaemonNotFound
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

// Supervisor owns the rigctld subprocess: locate, launch, monitor,
// terminate. It never retries a failed launch; restart policy belongs to the
// manager's reconnect loop.
type Supervisor struct {
	cfg Config
	bus *Bus

	mutex  sync.Mutex
	state  DaemonState
	cmd    *exec.Cmd
	exited chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor. Daemon output lines are published on
// the bus as EventDaemonOutput.
func NewSupervisor(cfg Config, bus *Bus) *Supervisor {
	return &Supervisor{
		cfg:   cfg,
		bus:   bus,
		state: DaemonNotStarted,
	}
}

// State returns the current daemon lifecycle state.
func (s *Supervisor) State() DaemonState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// IsRunning reports whether the rigctld process is alive.
func (s *Supervisor) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state == DaemonRunning
}

// buildArgs assembles the rigctld argument vector from the configuration.
func (s *Supervisor) buildArgs() []string {
	args := []string{
		"-m", strconv.Itoa(s.cfg.Model),
		"-t", strconv.Itoa(s.cfg.Port),
	}
	if s.cfg.Device != "" {
		args = append(args, "-r", s.cfg.Device)
	}
	if s.cfg.BaudRate > 0 {
		args = append(args, "-s", strconv.Itoa(s.cfg.BaudRate))
	}
	return args
}

// Start locates and launches rigctld, then waits (bounded by the configured
// start timeout) for the control port to accept a TCP connection. Stdout and
// stderr are streamed to the event bus without blocking the caller.
func (s *Supervisor) Start() error {
	s.mutex.Lock()
	if s.state == DaemonStarting || s.state == DaemonRunning {
		s.mutex.Unlock()
		return nil
	}
	s.state = DaemonStarting
	s.mutex.Unlock()

	fail := func(err error) error {
		s.mutex.Lock()
		s.state = DaemonFailed
		s.mutex.Unlock()
		return err
	}

	binary, err := FindRigctld(s.cfg.BinaryPath)
	if err != nil {
		return fail(err)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond); err == nil {
		conn.Close()
		return fail(fmt.Errorf("%w: something is already listening on %s", ErrPortUnavailable, addr))
	}

	args := s.buildArgs()
	logging.Infof("supervisor", "starting rigctld: %s %v", binary, args)

	cmd := exec.Command(binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrDaemonStartup, err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrDaemonStartup, err))
	}

	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrDaemonStartup, err))
	}

	exited := make(chan struct{})

	s.mutex.Lock()
	s.cmd = cmd
	s.exited = exited
	s.mutex.Unlock()

	s.wg.Add(2)
	go s.forwardOutput("stdout", stdout)
	go s.forwardOutput("stderr", stderr)

	go func() {
		err := cmd.Wait()
		s.mutex.Lock()
		if s.state == DaemonRunning {
			s.state = DaemonFailed
		}
		s.mutex.Unlock()
		close(exited)

		msg := "rigctld exited"
		if err != nil {
			msg = fmt.Sprintf("rigctld exited: %v", err)
		}
		logging.Warn("supervisor", msg)
		s.bus.Publish(Event{Kind: EventDaemonOutput, Message: msg})
	}()

	if err := s.waitForPort(addr, exited); err != nil {
		s.terminate(exited)
		return fail(err)
	}

	s.mutex.Lock()
	s.state = DaemonRunning
	s.mutex.Unlock()

	logging.Infof("supervisor", "rigctld ready on %s (model %d)", addr, s.cfg.Model)
	return nil
}

// forwardOutput republishes one pipe line-by-line as daemon output events.
func (s *Supervisor) forwardOutput(stream string, r io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		logging.Debugf("supervisor", "rigctld %s: %s", stream, line)
		s.bus.Publish(Event{Kind: EventDaemonOutput, Message: line})
	}
}

// waitForPort polls the control port until rigctld accepts a connection, the
// process exits, or the start timeout elapses.
func (s *Supervisor) waitForPort(addr string, exited <-chan struct{}) error {
	deadline := time.Now().Add(s.cfg.StartTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-exited:
			return fmt.Errorf("%w: process exited before opening %s", ErrDaemonStartup, addr)
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s not connectable after %v", ErrDaemonStartup, addr, s.cfg.StartTimeout)
		}
	}
}

// Stop terminates rigctld: graceful signal first, forceful kill after the
// grace period. Idempotent.
func (s *Supervisor) Stop() {
	s.mutex.Lock()
	cmd := s.cmd
	exited := s.exited
	if cmd == nil || s.state == DaemonStopped || s.state == DaemonNotStarted {
		s.state = DaemonStopped
		s.mutex.Unlock()
		return
	}
	s.state = DaemonStopping
	s.mutex.Unlock()

	s.terminate(exited)

	s.mutex.Lock()
	s.state = DaemonStopped
	s.cmd = nil
	s.mutex.Unlock()

	s.wg.Wait()
	logging.Info("supervisor", "rigctld stopped")
}

// terminate sends SIGTERM and escalates to SIGKILL after the grace period.
func (s *Supervisor) terminate(exited <-chan struct{}) {
	s.mutex.Lock()
	cmd := s.cmd
	s.mutex.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	select {
	case <-exited:
		return
	default:
	}

	grace := s.cfg.StopGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		cmd.Process.Kill()
		<-exited
		return
	}

	select {
	case <-exited:
	case <-time.After(grace):
		logging.Warn("supervisor", "rigctld did not exit after SIGTERM, killing")
		cmd.Process.Kill()
		<-exited
	}
}

// BinaryName returns the base name of the configured or discovered binary,
// for status reporting.
func (s *Supervisor) BinaryName() string {
	if s.cfg.BinaryPath != "" {
		return filepath.Base(s.cfg.BinaryPath)
	}
	return "rigctld"
}
