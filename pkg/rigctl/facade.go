package rigctl

import "context"

// Typed radio control operations. Each validates its arguments locally,
// routes through the codec and the connection state machine, and normalizes
// failures into *RadioError. Successful set operations publish an EventRadio
// carrying the new value so subscribers do not need to poll.

// GetFrequency reads the current frequency in Hz.
func (m *Manager) GetFrequency(ctx context.Context) (int64, error) {
	resp, err := m.SubmitCommand(ctx, Command{Op: OpGetFrequency})
	if err != nil {
		return 0, &RadioError{Op: "get_freq", Err: err}
	}
	freq, err := resp.Frequency()
	if err != nil {
		return 0, &RadioError{Op: "get_freq", Err: err}
	}
	return freq, nil
}

// SetFrequency tunes the radio to the given frequency in Hz.
func (m *Manager) SetFrequency(ctx context.Context, hz int64) error {
	resp, err := m.SubmitCommand(ctx, Command{Op: OpSetFrequency, Frequency: hz})
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return &RadioError{Op: "set_freq", Err: err}
	}
	m.bus.Publish(Event{Kind: EventRadio, Op: OpSetFrequency, Frequency: hz})
	return nil
}

// GetMode reads the current mode and passband width in Hz.
func (m *Manager) GetMode(ctx context.Context) (mode string, passband int, err error) {
	resp, err := m.SubmitCommand(ctx, Command{Op: OpGetMode})
	if err != nil {
		return "", 0, &RadioError{Op: "get_mode", Err: err}
	}
	mode, passband, err = resp.Mode()
	if err != nil {
		return "", 0, &RadioError{Op: "get_mode", Err: err}
	}
	return mode, passband, nil
}

// SetMode sets the operating mode and passband width. A passband of zero
// selects the rig's default width for the mode.
func (m *Manager) SetMode(ctx context.Context, mode string, passband int) error {
	resp, err := m.SubmitCommand(ctx, Command{Op: OpSetMode, Mode: mode, Passband: passband})
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return &RadioError{Op: "set_mode", Err: err}
	}
	m.bus.Publish(Event{Kind: EventRadio, Op: OpSetMode, Mode: mode, Passband: passband})
	return nil
}

// GetPTT reads the push-to-talk state.
func (m *Manager) GetPTT(ctx context.Context) (bool, error) {
	resp, err := m.SubmitCommand(ctx, Command{Op: OpGetPTT})
	if err != nil {
		return false, &RadioError{Op: "get_ptt", Err: err}
	}
	ptt, err := resp.PTT()
	if err != nil {
		return false, &RadioError{Op: "get_ptt", Err: err}
	}
	return ptt, nil
}

// SetPTT keys or unkeys the transmitter.
func (m *Manager) SetPTT(ctx context.Context, on bool) error {
	resp, err := m.SubmitCommand(ctx, Command{Op: OpSetPTT, PTT: on})
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return &RadioError{Op: "set_ptt", Err: err}
	}
	m.bus.Publish(Event{Kind: EventRadio, Op: OpSetPTT, PTT: on})
	return nil
}

// GetLevel reads a named level, e.g. STRENGTH or RFPOWER.
func (m *Manager) GetLevel(ctx context.Context, name string) (float64, error) {
	resp, err := m.SubmitCommand(ctx, Command{Op: OpGetLevel, Level: name})
	if err != nil {
		return 0, &RadioError{Op: "get_level", Err: err}
	}
	value, err := resp.Level()
	if err != nil {
		return 0, &RadioError{Op: "get_level", Err: err}
	}
	return value, nil
}

// SetLevel writes a named level.
func (m *Manager) SetLevel(ctx context.Context, name string, value float64) error {
	resp, err := m.SubmitCommand(ctx, Command{Op: OpSetLevel, Level: name, Value: value})
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		return &RadioError{Op: "set_level", Err: err}
	}
	m.bus.Publish(Event{Kind: EventRadio, Op: OpSetLevel, Level: name, Value: value})
	return nil
}
