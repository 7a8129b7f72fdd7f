package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetClockFlags(t *testing.T) {
	t.Helper()
	orig := [3]bool{realtime, noRealtime, freeRun}
	realtime, noRealtime, freeRun = true, false, false
	t.Cleanup(func() { realtime, noRealtime, freeRun = orig[0], orig[1], orig[2] })
}

func TestRealtimeFlagsRegistered(t *testing.T) {
	pf := rootCmd.PersistentFlags()
	require.NotNil(t, pf.Lookup("realtime"))
	require.NotNil(t, pf.Lookup("no-realtime"))
	assert.Equal(t, "true", pf.Lookup("realtime").DefValue)

	// The old spelling stays usable but out of the help text.
	legacy := pf.Lookup("free-run")
	require.NotNil(t, legacy)
	assert.True(t, legacy.Hidden)
}

func TestLoadConfigDefaultsToRealtime(t *testing.T) {
	resetClockFlags(t)
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Clock.FreeRun)
}

func TestLoadConfigNoRealtime(t *testing.T) {
	resetClockFlags(t)
	noRealtime = true
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Clock.FreeRun)
}

func TestLoadConfigRealtimeFalse(t *testing.T) {
	resetClockFlags(t)
	realtime = false
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Clock.FreeRun)
}

func TestLoadConfigFreeRunAlias(t *testing.T) {
	resetClockFlags(t)
	freeRun = true
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Clock.FreeRun)
}
