package statusui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"atmcore/internal/devicelink"
)

type fakeSource struct{ snapshot Snapshot }

func (f fakeSource) Snapshot() Snapshot { return f.snapshot }

func TestViewRendersDeviceStates(t *testing.T) {
	src := fakeSource{snapshot: Snapshot{
		CardState: devicelink.StateReady,
		HSMState:  devicelink.StateSearching,
	}}
	m := New(src)
	m.width = 60

	out := m.View()
	require.Contains(t, out, "atmd status")
	require.Contains(t, out, devicelink.StateReady.String())
	require.Contains(t, out, devicelink.StateSearching.String())
}

func TestViewRendersLastError(t *testing.T) {
	src := fakeSource{snapshot: Snapshot{
		CardState: devicelink.StateReady,
		HSMState:  devicelink.StateReady,
		LastError: errors.New("device not ready"),
	}}
	m := New(src)
	out := m.View()
	require.Contains(t, out, "device not ready")
}

func TestUpdateRefreshesSnapshotOnTick(t *testing.T) {
	src := &mutableSource{snapshot: Snapshot{CardState: devicelink.StateSearching}}
	m := New(src)

	src.snapshot = Snapshot{CardState: devicelink.StateReady, LastOperation: "check_balance"}
	updated, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)

	model := updated.(Model)
	require.Equal(t, devicelink.StateReady, model.snapshot.CardState)
	require.Equal(t, "check_balance", model.snapshot.LastOperation)
}

func TestQuitOnKeypress(t *testing.T) {
	src := fakeSource{}
	m := New(src)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
}

type mutableSource struct{ snapshot Snapshot }

func (m *mutableSource) Snapshot() Snapshot { return m.snapshot }
