package power

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSupply(t *testing.T, root, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for k, v := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o600))
	}
}

func TestState_Low(t *testing.T) {
	tests := []struct {
		name  string
		state State
		low   bool
	}{
		{"unknown never low", State{}, false},
		{"charging at 10%", State{Known: true, Percent: 10}, false},
		{"discharging at 50%", State{Known: true, OnBattery: true, Percent: 50}, true},
		{"discharging at 51%", State{Known: true, OnBattery: true, Percent: 51}, false},
		{"discharging at 5%", State{Known: true, OnBattery: true, Percent: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.low, tt.state.Low())
		})
	}
}

func TestSysfs_State(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", map[string]string{"type": "Mains", "online": "0"})
	writeSupply(t, root, "BAT0", map[string]string{"type": "Battery", "capacity": "40", "status": "Discharging"})
	writeSupply(t, root, "BAT1", map[string]string{"type": "Battery", "capacity": "60", "status": "Unknown"})

	s := NewSysfs(root)
	require.True(t, s.HasBattery())

	st := s.State(context.Background())
	assert.True(t, st.Known)
	assert.True(t, st.OnBattery)
	assert.InDelta(t, 50.0, st.Percent, 0.001)
	assert.True(t, st.Low())
}

func TestSysfs_Charging(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT0", map[string]string{"type": "Battery", "capacity": "20", "status": "Charging"})

	st := NewSysfs(root).State(context.Background())
	assert.True(t, st.Known)
	assert.False(t, st.OnBattery)
	assert.False(t, st.Low())
}

func TestSysfs_NoBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", map[string]string{"type": "Mains"})

	s := NewSysfs(root)
	assert.False(t, s.HasBattery())
	assert.False(t, s.State(context.Background()).Known)

	missing := NewSysfs(filepath.Join(root, "nope"))
	assert.False(t, missing.State(context.Background()).Known)
}

type countingSource struct {
	reads int
	state State
}

func (c *countingSource) Name() string { return "counting" }

func (c *countingSource) State(context.Context) State {
	c.reads++
	return c.state
}

func TestCached(t *testing.T) {
	src := &countingSource{state: State{Known: true, OnBattery: true, Percent: 30}}
	c := NewCached(src, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	assert.True(t, c.State(context.Background()).Low())
	assert.True(t, c.State(context.Background()).Low())
	assert.Equal(t, 1, src.reads)

	now = now.Add(2 * time.Minute)
	src.state = State{Known: true, Percent: 30}
	assert.False(t, c.State(context.Background()).Low())
	assert.Equal(t, 2, src.reads)
	assert.Equal(t, "counting", c.Name())
}

func TestDetect_ExplicitNone(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := Detect(context.Background(), "none", logger)
	assert.Equal(t, "none", src.Name())
	assert.False(t, src.State(context.Background()).Known)
}
