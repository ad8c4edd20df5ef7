package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawgent/backend/internal/settlement"
)

func TestParsePeriod(t *testing.T) {
	start, end, err := parsePeriod("2026-05-01", "2026-06-01T00:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 5, 31, 22, 0, 0, 0, time.UTC), end)

	_, _, err = parsePeriod("2026-06-01", "2026-05-01")
	assert.ErrorIs(t, err, settlement.ErrInvalidPeriod)

	_, _, err = parsePeriod("yesterday", "2026-05-01")
	assert.ErrorContains(t, err, "--from")
}

func TestCommandTree(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"migrate"}, {"reconcile"}, {"settle"}, {"process"}, {"retry"},
		{"failed"}, {"operator", "create"}, {"operator", "list"}, {"token"},
		{"provider", "create"}, {"provider", "show"}, {"provider", "earning"},
		{"transaction"}, {"event"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestSettleRequiresPeriod(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"settle", "--from", "2026-05-01"})
	err := root.Execute()
	assert.ErrorContains(t, err, "to")
}
