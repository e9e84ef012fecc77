package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CACHE_CAPACITY", "")
	t.Setenv("HISTORY_BACKEND", "")

	cfg := Load()
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "file", cfg.HistoryBackend)
	require.Equal(t, "futuricity_search_history", cfg.HistorySlot)
	require.Equal(t, 100, cfg.CacheCapacity)
	require.Equal(t, 5*time.Minute, cfg.CacheDefaultTTL)
	require.False(t, cfg.CacheSingleFlight)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CACHE_CAPACITY", "250")
	t.Setenv("CACHE_DEFAULT_TTL", "90s")
	t.Setenv("CACHE_SINGLE_FLIGHT", "true")
	t.Setenv("SCORING_TIMEOUT", "not-a-duration")
	t.Setenv("CLIENT_SECRETS", "web:abc, ios : def ,broken,:nosecret")

	cfg := Load()
	require.Equal(t, 250, cfg.CacheCapacity)
	require.Equal(t, 90*time.Second, cfg.CacheDefaultTTL)
	require.True(t, cfg.CacheSingleFlight)
	require.Equal(t, 3*time.Minute, cfg.ScoringTimeout)
	require.Equal(t, map[string]string{"web": "abc", "ios": "def"}, cfg.ClientSecrets)
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	t.Setenv("STATS_INTERVAL", "0s")
	t.Setenv("CACHE_DEFAULT_TTL", "-5m")

	cfg := Load()
	require.Equal(t, time.Minute, cfg.StatsInterval)
	require.Equal(t, 5*time.Minute, cfg.CacheDefaultTTL)
}

func TestParseClientSecrets_Empty(t *testing.T) {
	require.Empty(t, ParseClientSecrets(""))
}
