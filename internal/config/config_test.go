package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/signals-bridge/internal/signal"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_PATH", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "data/signals.db", cfg.DatabasePath)
	assert.Equal(t, 0.5, cfg.MinRRRatio)
	assert.Equal(t, 0.15, cfg.RiskCeilingByClass[signal.Crypto])
}

func TestLoad_DataDirSeedsDatabasePath(t *testing.T) {
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("DATA_DIR", "/var/lib/signals-bridge")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/signals-bridge/signals.db", cfg.DatabasePath)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("MIN_RR_RATIO", "0.75")
	t.Setenv("PROXIMITY_CLOSE_RATIO", "0.2")
	t.Setenv("PROXIMITY_MID_RATIO", "0.4")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.MinRRRatio)
	assert.Equal(t, 0.2, cfg.ProximityCloseRatio)
}

func TestValidate_RejectsBadProximityOrdering(t *testing.T) {
	cfg := &Config{DatabasePath: "x", ProximityCloseRatio: 0.5, ProximityMidRatio: 0.3}
	err := cfg.Validate()
	require.Error(t, err)
}
