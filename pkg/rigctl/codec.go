package rigctl

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Op identifies a rigctld operation. The command set is closed: every
// operation the manager can submit is enumerated here.
type Op int

const (
	OpGetFrequency Op = iota
	OpSetFrequency
	OpGetMode
	OpSetMode
	OpGetPTT
	OpSetPTT
	OpGetLevel
	OpSetLevel
)

// String returns the operation name for logging and error messages.
func (op Op) String() string {
	switch op {
	case OpGetFrequency:
		return "get_freq"
	case OpSetFrequency:
		return "set_freq"
	case OpGetMode:
		return "get_mode"
	case OpSetMode:
		return "set_mode"
	case OpGetPTT:
		return "get_ptt"
	case OpSetPTT:
		return "set_ptt"
	case OpGetLevel:
		return "get_level"
	case OpSetLevel:
		return "set_level"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Radio modes rigctld accepts for set_mode.
const (
	ModeUSB    = "USB"
	ModeLSB    = "LSB"
	ModeCW     = "CW"
	ModeCWR    = "CWR"
	ModeRTTY   = "RTTY"
	ModeFM     = "FM"
	ModeAM     = "AM"
	ModePKTUSB = "PKTUSB"
	ModePKTLSB = "PKTLSB"
)

var validModes = map[string]bool{
	ModeUSB:    true,
	ModeLSB:    true,
	ModeCW:     true,
	ModeCWR:    true,
	ModeRTTY:   true,
	ModeFM:     true,
	ModeAM:     true,
	ModePKTUSB: true,
	ModePKTLSB: true,
}

// ValidMode reports whether mode is in the accepted set.
func ValidMode(mode string) bool {
	return validModes[mode]
}

// Command is one typed rigctld call. Only the fields relevant to Op are
// consulted by Encode.
type Command struct {
	Op        Op
	Frequency int64   // OpSetFrequency, Hz
	Mode      string  // OpSetMode
	Passband  int     // OpSetMode, Hz; 0 selects the rig default
	PTT       bool    // OpSetPTT
	Level     string  // OpGetLevel / OpSetLevel, e.g. STRENGTH, RFPOWER
	Value     float64 // OpSetLevel
}

// Encode validates the command arguments and renders the exact rigctld
// short-form command line (without the trailing newline).
func (c Command) Encode() (string, error) {
	switch c.Op {
	case OpGetFrequency:
		return "f", nil

	case OpSetFrequency:
		if c.Frequency <= 0 {
			return "", fmt.Errorf("invalid frequency %d Hz", c.Frequency)
		}
		return fmt.Sprintf("F %d", c.Frequency), nil

	case OpGetMode:
		return "m", nil

	case OpSetMode:
		if !ValidMode(c.Mode) {
			return "", fmt.Errorf("invalid mode %q", c.Mode)
		}
		if c.Passband < 0 {
			return "", fmt.Errorf("invalid passband %d Hz", c.Passband)
		}
		return fmt.Sprintf("M %s %d", c.Mode, c.Passband), nil

	case OpGetPTT:
		return "t", nil

	case OpSetPTT:
		if c.PTT {
			return "T 1", nil
		}
		return "T 0", nil

	case OpGetLevel:
		if c.Level == "" {
			return "", fmt.Errorf("level name is required")
		}
		return fmt.Sprintf("l %s", c.Level), nil

	case OpSetLevel:
		if c.Level == "" {
			return "", fmt.Errorf("level name is required")
		}
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return "", fmt.Errorf("invalid level value %v", c.Value)
		}
		return fmt.Sprintf("L %s %s", c.Level, formatLevel(c.Value)), nil

	default:
		return "", fmt.Errorf("unknown operation %v", c.Op)
	}
}

// formatLevel renders a level value the way rigctl prints them: integral
// values without a decimal point, fractional ones with minimal digits.
func formatLevel(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Response is one complete rigctld reply: zero or more data lines followed
// by the RPRT terminator. Code 0 means success; nonzero is a daemon error
// with no payload.
type Response struct {
	Lines []string
	Code  int
}

// Err returns the protocol error for a nonzero code, nil otherwise.
func (r Response) Err() error {
	if r.Code != 0 {
		return &ProtocolError{Code: r.Code}
	}
	return nil
}

// ParseReportLine parses an "RPRT <code>" terminator line. ok is false when
// the line is not a terminator; the line is then response payload.
func ParseReportLine(line string) (code int, ok bool) {
	rest, found := strings.CutPrefix(line, "RPRT ")
	if !found {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return code, true
}

// responseAssembler accumulates payload lines until the RPRT terminator
// arrives. The socket delivers arbitrary chunks; line splitting happens in
// the listener, so the assembler only ever sees whole lines.
type responseAssembler struct {
	lines []string
}

// feed adds one line. done is true when the line completed a response.
func (a *responseAssembler) feed(line string) (resp Response, done bool) {
	if code, ok := ParseReportLine(line); ok {
		resp = Response{Lines: a.lines, Code: code}
		a.lines = nil
		return resp, true
	}
	a.lines = append(a.lines, strings.TrimRight(line, "\r"))
	return Response{}, false
}

// Frequency decodes a get_freq response: a single integer Hz line.
func (r Response) Frequency() (int64, error) {
	if err := r.Err(); err != nil {
		return 0, err
	}
	if len(r.Lines) < 1 {
		return 0, &MalformedResponseError{Reason: "missing frequency line"}
	}
	freq, err := strconv.ParseInt(strings.TrimSpace(r.Lines[0]), 10, 64)
	if err != nil {
		return 0, &MalformedResponseError{Line: r.Lines[0], Reason: "not an integer frequency"}
	}
	return freq, nil
}

// Mode decodes a get_mode response: a mode line followed by a passband line.
func (r Response) Mode() (mode string, passband int, err error) {
	if err := r.Err(); err != nil {
		return "", 0, err
	}
	if len(r.Lines) < 2 {
		return "", 0, &MalformedResponseError{Reason: "expected mode and passband lines"}
	}
	mode = strings.TrimSpace(r.Lines[0])
	if mode == "" {
		return "", 0, &MalformedResponseError{Line: r.Lines[0], Reason: "empty mode"}
	}
	passband, convErr := strconv.Atoi(strings.TrimSpace(r.Lines[1]))
	if convErr != nil {
		return "", 0, &MalformedResponseError{Line: r.Lines[1], Reason: "not an integer passband"}
	}
	return mode, passband, nil
}

// PTT decodes a get_ptt response: a single 0/1 line.
func (r Response) PTT() (bool, error) {
	if err := r.Err(); err != nil {
		return false, err
	}
	if len(r.Lines) < 1 {
		return false, &MalformedResponseError{Reason: "missing ptt line"}
	}
	v, err := strconv.Atoi(strings.TrimSpace(r.Lines[0]))
	if err != nil {
		return false, &MalformedResponseError{Line: r.Lines[0], Reason: "not an integer ptt state"}
	}
	return v != 0, nil
}

// Level decodes a get_level response: a single numeric line.
func (r Response) Level() (float64, error) {
	if err := r.Err(); err != nil {
		return 0, err
	}
	if len(r.Lines) < 1 {
		return 0, &MalformedResponseError{Reason: "missing level line"}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Lines[0]), 64)
	if err != nil {
		return 0, &MalformedResponseError{Line: r.Lines[0], Reason: "not a numeric level"}
	}
	return v, nil
}
