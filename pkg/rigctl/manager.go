package rigctl

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rigranger/rigrangerd/pkg/logging"
)

// State is the connection state machine's current position.
type State int

const (
	// StateDisconnected is the initial state and the state entered on any
	// I/O failure while connected.
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateClosed is terminal, reachable only through Stop.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config describes one rigctld session.
type Config struct {
	Model    int    // Hamlib model number (1 = dummy rig)
	Device   string // serial device path, e.g. /dev/ttyUSB0
	BaudRate int    // serial baud rate

	Host string // rigctld control host, loopback
	Port int    // rigctld control port

	BinaryPath string // explicit rigctld path, overrides discovery
	Autostart  bool   // launch rigctld instead of using a running one

	RetryInterval  time.Duration // reconnect backoff ceiling
	InitialBackoff time.Duration // first reconnect delay, doubles per failure
	ConnectTimeout time.Duration // TCP dial timeout
	CommandTimeout time.Duration // per-command response wait
	StartTimeout   time.Duration // daemon port-up wait
	StopGrace      time.Duration // SIGTERM to SIGKILL escalation
}

func (c Config) withDefaults() Config {
	if c.Model == 0 {
		c.Model = 1
	}
	if c.BaudRate == 0 {
		c.BaudRate = 19200
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 4532
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.InitialBackoff > c.RetryInterval {
		c.InitialBackoff = c.RetryInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 2 * time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 5 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 2 * time.Second
	}
	return c
}

// Addr returns the rigctld control address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// pendingRequest correlates one submitted command with its eventual
// response. The wire protocol carries no identifier, so matching is strict
// FIFO and at most one request is in flight.
type pendingRequest struct {
	line      string
	submitted time.Time
	reply     chan submitResult
}

type submitResult struct {
	resp Response
	err  error
}

// StatusSnapshot is a point-in-time view of the session for upstream
// consumers.
type StatusSnapshot struct {
	State       State
	DaemonState DaemonState
	Model       int
	Device      string
	Addr        string
	StartTime   time.Time
}

// Manager supervises one rigctld session: daemon lifecycle, connection
// state machine, command submission, and event distribution. Multiple
// independent managers may coexist.
type Manager struct {
	cfg        Config
	bus        *Bus
	supervisor *Supervisor

	mutex          sync.Mutex
	state          State
	conn           net.Conn
	requests       chan *pendingRequest
	disconnected   chan struct{}
	reconnectTimer *time.Timer
	backoff        time.Duration
	started        bool
	startTime      time.Time

	closed chan struct{}
}

// NewManager creates a manager from configuration. Nothing runs until
// Start.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		bus:     NewBus(),
		state:   StateDisconnected,
		backoff: cfg.InitialBackoff,
		closed:  make(chan struct{}),
	}
	if cfg.Autostart {
		m.supervisor = NewSupervisor(cfg, m.bus)
	}
	return m
}

// Bus exposes the manager's event bus.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Subscribe registers an event handler; see Bus.Subscribe.
func (m *Manager) Subscribe(kind EventKind, handler Handler) *Subscription {
	return m.bus.Subscribe(kind, handler)
}

// Unsubscribe removes an event handler; see Bus.Unsubscribe.
func (m *Manager) Unsubscribe(sub *Subscription) {
	m.bus.Unsubscribe(sub)
}

// Status returns a snapshot of the session state.
func (m *Manager) Status() StatusSnapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	daemonState := DaemonNotStarted
	if m.supervisor != nil {
		daemonState = m.supervisor.State()
	}
	return StatusSnapshot{
		State:       m.state,
		DaemonState: daemonState,
		Model:       m.cfg.Model,
		Device:      m.cfg.Device,
		Addr:        m.cfg.Addr(),
		StartTime:   m.startTime,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

// Start launches rigctld (when autostart is configured) and makes the first
// connection attempt. A launch failure is returned to the caller without
// retry; a dial failure schedules the reconnect loop and Start returns nil.
func (m *Manager) Start() error {
	m.mutex.Lock()
	if m.state == StateClosed {
		m.mutex.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mutex.Unlock()
		return nil
	}
	m.started = true
	m.startTime = time.Now()
	m.mutex.Unlock()

	if m.supervisor != nil {
		if err := m.supervisor.Start(); err != nil {
			m.mutex.Lock()
			m.started = false
			m.mutex.Unlock()
			return err
		}
	}

	if err := m.connect(); err != nil {
		logging.Warnf("manager", "initial connect to %s failed: %v", m.cfg.Addr(), err)
		m.scheduleReconnect()
	}
	return nil
}

// connect performs one bounded connection attempt and, on success, starts a
// fresh listener and writer pair for the new socket.
func (m *Manager) connect() error {
	m.mutex.Lock()
	if m.state == StateClosed {
		m.mutex.Unlock()
		return ErrClosed
	}
	if m.state == StateConnected {
		m.mutex.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mutex.Unlock()
	m.publishState(StateConnecting, "")

	// The daemon may have exited since the last attempt; the reconnect
	// path owns the relaunch decision.
	if m.supervisor != nil && !m.supervisor.IsRunning() {
		if err := m.supervisor.Start(); err != nil {
			m.bus.Publish(Event{Kind: EventError, Message: fmt.Sprintf("relaunch failed: %v", err)})
			return err
		}
	}

	conn, err := net.DialTimeout("tcp", m.cfg.Addr(), m.cfg.ConnectTimeout)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	if m.state == StateClosed {
		m.mutex.Unlock()
		conn.Close()
		return ErrClosed
	}
	m.state = StateConnected
	m.conn = conn
	m.backoff = m.cfg.InitialBackoff
	disconnected := make(chan struct{})
	requests := make(chan *pendingRequest, 1)
	m.disconnected = disconnected
	m.requests = requests
	m.mutex.Unlock()

	logging.Infof("manager", "connected to rigctld at %s", m.cfg.Addr())
	m.publishState(StateConnected, "")

	responses := make(chan Response, 1)
	go m.readLoop(conn, responses, disconnected)
	go m.writeLoop(conn, requests, responses, disconnected)
	return nil
}

// connectionLost moves Connected -> Disconnected exactly once per
// connection. Stale calls from a previous connection's listener are ignored.
func (m *Manager) connectionLost(disconnected chan struct{}, reason string) {
	m.mutex.Lock()
	if m.state != StateConnected || m.disconnected != disconnected {
		m.mutex.Unlock()
		return
	}
	m.state = StateDisconnected
	conn := m.conn
	m.conn = nil
	close(disconnected)
	m.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}

	logging.Warnf("manager", "connection lost: %s", reason)
	m.publishState(StateDisconnected, reason)
	m.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer. The delay doubles per
// consecutive failure up to the configured retry interval; it never blocks
// command submitters.
func (m *Manager) scheduleReconnect() {
	m.mutex.Lock()
	if m.state == StateClosed || m.reconnectTimer != nil {
		m.mutex.Unlock()
		return
	}
	m.state = StateReconnecting
	delay := m.backoff
	m.backoff *= 2
	if m.backoff > m.cfg.RetryInterval {
		m.backoff = m.cfg.RetryInterval
	}
	m.reconnectTimer = time.AfterFunc(delay, m.retryConnect)
	m.mutex.Unlock()

	logging.Infof("manager", "reconnecting to %s in %v", m.cfg.Addr(), delay)
	m.publishState(StateReconnecting, "")
}

func (m *Manager) retryConnect() {
	m.mutex.Lock()
	m.reconnectTimer = nil
	if m.state == StateClosed {
		m.mutex.Unlock()
		return
	}
	m.mutex.Unlock()

	if err := m.connect(); err != nil && err != ErrClosed {
		m.scheduleReconnect()
	}
}

// readLoop is the listener loop: it reads the socket line by line,
// reassembles complete responses regardless of TCP chunk boundaries, and
// hands them to the writer for FIFO correlation. It exits when the
// connection leaves Connected; a fresh instance starts per connect.
func (m *Manager) readLoop(conn net.Conn, responses chan<- Response, disconnected chan struct{}) {
	scanner := bufio.NewScanner(conn)
	var asm responseAssembler

	for scanner.Scan() {
		resp, done := asm.feed(scanner.Text())
		if !done {
			continue
		}
		select {
		case responses <- resp:
		case <-disconnected:
			return
		case <-m.closed:
			return
		}
	}

	reason := "connection closed by peer"
	if err := scanner.Err(); err != nil {
		reason = err.Error()
	}
	m.connectionLost(disconnected, reason)
}

// writeLoop serializes command submission: it dispatches one request at a
// time and pairs it with the next complete response. A response arriving
// with no request in flight is published as an error event, never silently
// dropped.
func (m *Manager) writeLoop(conn net.Conn, requests chan *pendingRequest, responses <-chan Response, disconnected chan struct{}) {
	defer m.failQueued(requests)

	for {
		select {
		case <-disconnected:
			return
		case <-m.closed:
			return

		case resp := <-responses:
			m.bus.Publish(Event{
				Kind:    EventError,
				Message: fmt.Sprintf("unexpected data from rigctld: %v (RPRT %d)", resp.Lines, resp.Code),
			})

		case req := <-requests:
			conn.SetWriteDeadline(time.Now().Add(m.cfg.CommandTimeout))
			if _, err := conn.Write([]byte(req.line + "\n")); err != nil {
				req.reply <- submitResult{err: ErrConnectionLost}
				m.connectionLost(disconnected, fmt.Sprintf("write failed: %v", err))
				return
			}

			timer := time.NewTimer(m.cfg.CommandTimeout)
			select {
			case resp := <-responses:
				timer.Stop()
				req.reply <- submitResult{resp: resp}
			case <-timer.C:
				req.reply <- submitResult{err: ErrTimeout}
				// A late response would be matched against the
				// wrong request; drop the connection to restore
				// FIFO integrity.
				m.connectionLost(disconnected, "command timed out")
				return
			case <-disconnected:
				timer.Stop()
				req.reply <- submitResult{err: ErrConnectionLost}
				return
			case <-m.closed:
				timer.Stop()
				req.reply <- submitResult{err: ErrShuttingDown}
				return
			}
		}
	}
}

// failQueued fails any request still sitting in the submission slot when a
// connection dies or the manager shuts down.
func (m *Manager) failQueued(requests chan *pendingRequest) {
	err := ErrConnectionLost
	select {
	case <-m.closed:
		err = ErrShuttingDown
	default:
	}

	for {
		select {
		case req := <-requests:
			req.reply <- submitResult{err: err}
		default:
			return
		}
	}
}

// SubmitCommand encodes and submits one command, waiting (bounded) for its
// response. While not Connected it fails immediately with ErrNotConnected
// and performs no socket I/O. Concurrent callers are serialized through a
// single-slot queue, so at most one command is on the wire at a time.
func (m *Manager) SubmitCommand(ctx context.Context, cmd Command) (Response, error) {
	line, err := cmd.Encode()
	if err != nil {
		return Response{}, err
	}

	m.mutex.Lock()
	state := m.state
	requests := m.requests
	disconnected := m.disconnected
	m.mutex.Unlock()

	switch state {
	case StateClosed:
		return Response{}, ErrShuttingDown
	case StateConnected:
	default:
		return Response{}, ErrNotConnected
	}

	req := &pendingRequest{
		line:      line,
		submitted: time.Now(),
		reply:     make(chan submitResult, 1),
	}

	select {
	case requests <- req:
	case <-disconnected:
		return Response{}, ErrConnectionLost
	case <-m.closed:
		return Response{}, ErrShuttingDown
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.resp, res.err
	case <-disconnected:
		return m.lateReply(req, ErrConnectionLost)
	case <-m.closed:
		return m.lateReply(req, ErrShuttingDown)
	case <-ctx.Done():
		return m.lateReply(req, ctx.Err())
	}
}

// lateReply prefers a result that raced with the cancellation signal; the
// reply channel is buffered so the writer never blocks on it.
func (m *Manager) lateReply(req *pendingRequest, fallback error) (Response, error) {
	select {
	case res := <-req.reply:
		return res.resp, res.err
	default:
		return Response{}, fallback
	}
}

// Stop closes the manager: any state -> Closed. It closes the socket,
// cancels pending reconnect timers, fails in-flight requests, and stops the
// daemon. Idempotent and safe to call concurrently with submissions.
func (m *Manager) Stop() error {
	m.mutex.Lock()
	if m.state == StateClosed {
		m.mutex.Unlock()
		return nil
	}
	wasConnected := m.state == StateConnected
	m.state = StateClosed
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	disconnected := m.disconnected
	close(m.closed)
	m.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected && disconnected != nil {
		close(disconnected)
	}

	if m.supervisor != nil {
		m.supervisor.Stop()
	}

	m.publishState(StateClosed, "")
	logging.Info("manager", "manager stopped")
	m.bus.Close()
	return nil
}

func (m *Manager) publishState(state State, reason string) {
	m.bus.Publish(Event{
		Kind:    EventConnection,
		State:   state,
		Reason:  reason,
		Message: state.String(),
	})
}
