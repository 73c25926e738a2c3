package corosql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleton_QueryBeforeInit_ReturnsNotInitialized(t *testing.T) {
	require.NoError(t, Reset())
	_, err := Query(context.Background(), "SELECT 1")
	var ni *NotInitialized
	require.ErrorAs(t, err, &ni)
}

func TestSingleton_RunBeforeInit_ReturnsNotInitialized(t *testing.T) {
	require.NoError(t, Reset())
	_, err := Run(context.Background(), func(s *Session) (any, error) { return nil, nil })
	var ni *NotInitialized
	require.ErrorAs(t, err, &ni)
}

func TestSingleton_InitIsIdempotent(t *testing.T) {
	require.NoError(t, Reset())
	cfg := Config{Host: "127.0.0.1", Database: "testdb", Capacity: 2}
	require.NoError(t, Init(context.Background(), cfg))

	first := singleton
	require.NoError(t, Init(context.Background(), Config{Host: "other", Database: "other", Capacity: 5}))
	require.Same(t, first, singleton, "second Init call must be a no-op while a singleton exists")

	require.NoError(t, Reset())
}

func TestSingleton_InitRejectsInvalidConfig(t *testing.T) {
	require.NoError(t, Reset())
	err := Init(context.Background(), Config{})
	var ci *ConfigInvalid
	require.ErrorAs(t, err, &ci)

	_, statsErr := StatsGlobal()
	var ni *NotInitialized
	require.ErrorAs(t, statsErr, &ni)
}

func TestSingleton_ResetAllowsReconfigure(t *testing.T) {
	require.NoError(t, Reset())
	require.NoError(t, Init(context.Background(), Config{Host: "127.0.0.1", Database: "a", Capacity: 1}))
	require.NoError(t, Reset())
	require.NoError(t, Init(context.Background(), Config{Host: "127.0.0.1", Database: "b", Capacity: 3}))

	stats, err := StatsGlobal()
	require.NoError(t, err)
	require.Equal(t, 3, stats.Capacity)

	require.NoError(t, Reset())
}
