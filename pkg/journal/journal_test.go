package journal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigranger/rigrangerd/pkg/rigctl"
)

func openTestJournal(t *testing.T, maxEvents int) *Journal {
	t.Helper()

	j, err := Open(filepath.Join(t.TempDir(), "events.db"), maxEvents)
	require.NoError(t, err, "failed to open journal")
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := openTestJournal(t, 100)

	events := []rigctl.Event{
		{Kind: rigctl.EventConnection, State: rigctl.StateConnecting, Time: time.Now()},
		{Kind: rigctl.EventConnection, State: rigctl.StateConnected, Time: time.Now()},
		{Kind: rigctl.EventDaemonOutput, Message: "rigctld: model 1 ready", Time: time.Now()},
		{Kind: rigctl.EventError, Message: "unexpected data", Time: time.Now()},
	}
	for _, ev := range events {
		require.NoError(t, j.Record(ev))
	}

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// Newest first.
	assert.Equal(t, "error", entries[0].Kind)
	assert.Equal(t, "unexpected data", entries[0].Message)
	assert.Equal(t, "connection", entries[3].Kind)
	assert.Equal(t, "connecting", entries[3].State)
}

func TestJournalRadioMessages(t *testing.T) {
	j := openTestJournal(t, 100)

	cases := []struct {
		ev   rigctl.Event
		want string
	}{
		{
			rigctl.Event{Kind: rigctl.EventRadio, Op: rigctl.OpSetFrequency, Frequency: 14074000},
			"frequency set to 14074000 Hz",
		},
		{
			rigctl.Event{Kind: rigctl.EventRadio, Op: rigctl.OpSetMode, Mode: "USB", Passband: 2400},
			"mode set to USB (passband 2400 Hz)",
		},
		{
			rigctl.Event{Kind: rigctl.EventRadio, Op: rigctl.OpSetPTT, PTT: true},
			"ptt on",
		},
		{
			rigctl.Event{Kind: rigctl.EventRadio, Op: rigctl.OpSetLevel, Level: "RFPOWER", Value: 0.5},
			"level RFPOWER set to 0.5",
		},
	}

	for _, tc := range cases {
		tc.ev.Time = time.Now()
		require.NoError(t, j.Record(tc.ev))
	}

	entries, err := j.Recent(len(cases))
	require.NoError(t, err)
	require.Len(t, entries, len(cases))

	// Recent is newest first, cases were recorded oldest first.
	for i, tc := range cases {
		assert.Equal(t, tc.want, entries[len(entries)-1-i].Message)
	}
}

func TestJournalPrune(t *testing.T) {
	j := openTestJournal(t, 5)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 12; i++ {
		ev := rigctl.Event{
			Kind:    rigctl.EventDaemonOutput,
			Message: fmt.Sprintf("line %d", i),
			Time:    base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, j.Record(ev))
	}

	entries, err := j.Recent(100)
	require.NoError(t, err)
	require.Len(t, entries, 5, "pruning should cap the table")

	// The survivors are the newest five.
	assert.Equal(t, "line 11", entries[0].Message)
	assert.Equal(t, "line 7", entries[4].Message)
}

func TestJournalAttach(t *testing.T) {
	j := openTestJournal(t, 100)

	m := rigctl.NewManager(rigctl.Config{
		Host:      "127.0.0.1",
		Port:      1,
		Autostart: false,
	})
	defer m.Stop()

	j.Attach(m)
	m.Bus().Publish(rigctl.Event{
		Kind:    rigctl.EventError,
		Message: "attached event",
		Time:    time.Now(),
	})

	// Records are written asynchronously on the dispatch goroutine.
	require.Eventually(t, func() bool {
		entries, err := j.Recent(1)
		if err != nil {
			return false
		}
		return len(entries) == 1 && entries[0].Message == "attached event"
	}, 2*time.Second, 10*time.Millisecond, "attached journal never recorded the published event")

	j.Detach(m)
}

func TestJournalRequiresPath(t *testing.T) {
	_, err := Open("", 100)
	assert.Error(t, err, "empty journal path must be rejected")
}
