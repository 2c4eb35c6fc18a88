package rigctl

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDaemon is a minimal in-process rigctld stand-in: newline commands in,
// RPRT-terminated responses out, one unmultiplexed control channel.
type fakeDaemon struct {
	t  *testing.T
	ln net.Listener

	mu        sync.Mutex
	freq      int64
	mode      string
	passband  int
	ptt       bool
	levels    map[string]float64
	respDelay time.Duration
	dropNext  bool     // close the connection instead of answering
	failNext  int      // answer the next command with this RPRT code
	trace     []string // "recv <line>" / "sent <line>" sequence
	conns     []net.Conn
	closed    bool
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	d := &fakeDaemon{
		t:        t,
		ln:       ln,
		freq:     14078000,
		mode:     "USB",
		passband: 2400,
		levels:   map[string]float64{"STRENGTH": 0.5, "RFPOWER": 1},
	}
	go d.serve()
	t.Cleanup(d.Close)
	return d
}

func (d *fakeDaemon) Addr() (host string, port int) {
	addr := d.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (d *fakeDaemon) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	conns := d.conns
	d.conns = nil
	d.mu.Unlock()

	d.ln.Close()
	for _, c := range conns {
		c.Close()
	}
}

func (d *fakeDaemon) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			conn.Close()
			return
		}
		d.conns = append(d.conns, conn)
		d.mu.Unlock()
		go d.handle(conn)
	}
}

func (d *fakeDaemon) handle(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()

		d.mu.Lock()
		d.trace = append(d.trace, "recv "+line)
		delay := d.respDelay
		drop := d.dropNext
		d.dropNext = false
		code := d.failNext
		d.failNext = 0
		d.mu.Unlock()

		if drop {
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		var reply string
		if code != 0 {
			reply = fmt.Sprintf("RPRT %d", code)
		} else {
			reply = d.execute(line)
		}

		d.mu.Lock()
		d.trace = append(d.trace, "sent "+reply)
		d.mu.Unlock()

		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}

func (d *fakeDaemon) execute(line string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "RPRT -1"
	}

	switch fields[0] {
	case "f":
		return fmt.Sprintf("%d\nRPRT 0", d.freq)
	case "F":
		freq, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return "RPRT -1"
		}
		d.freq = freq
		return "RPRT 0"
	case "m":
		return fmt.Sprintf("%s\n%d\nRPRT 0", d.mode, d.passband)
	case "M":
		d.mode = fields[1]
		d.passband, _ = strconv.Atoi(fields[2])
		return "RPRT 0"
	case "t":
		if d.ptt {
			return "1\nRPRT 0"
		}
		return "0\nRPRT 0"
	case "T":
		d.ptt = fields[1] == "1"
		return "RPRT 0"
	case "l":
		v, ok := d.levels[fields[1]]
		if !ok {
			return "RPRT -11"
		}
		return fmt.Sprintf("%g\nRPRT 0", v)
	case "L":
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return "RPRT -1"
		}
		d.levels[fields[1]] = v
		return "RPRT 0"
	default:
		return "RPRT -1"
	}
}

// Inject writes a raw line on every open connection, simulating unsolicited
// daemon output.
func (d *fakeDaemon) Inject(line string) {
	d.mu.Lock()
	conns := append([]net.Conn(nil), d.conns...)
	d.mu.Unlock()

	for _, c := range conns {
		c.Write([]byte(line + "\n"))
	}
}

func (d *fakeDaemon) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.respDelay = delay
	d.mu.Unlock()
}

func (d *fakeDaemon) DropNext() {
	d.mu.Lock()
	d.dropNext = true
	d.mu.Unlock()
}

func (d *fakeDaemon) FailNext(code int) {
	d.mu.Lock()
	d.failNext = code
	d.mu.Unlock()
}

func (d *fakeDaemon) Trace() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.trace...)
}

func (d *fakeDaemon) Frequency() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freq
}

// testManager builds a manager pointed at the fake daemon with short
// timeouts suitable for tests.
func testManager(t *testing.T, d *fakeDaemon) *Manager {
	t.Helper()

	host, port := d.Addr()
	m := NewManager(Config{
		Host:           host,
		Port:           port,
		Autostart:      false,
		InitialBackoff: 20 * time.Millisecond,
		RetryInterval:  100 * time.Millisecond,
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
	})
	t.Cleanup(func() { m.Stop() })
	return m
}

// waitForState polls until the manager reaches the wanted state.
func waitForState(t *testing.T, m *Manager, want State, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("manager did not reach state %v (still %v)", want, m.State())
}
