package main

import (
	"bytes"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmigrations "github.com/wolfman30/clinic-booking-platform/migrations"
)

func TestParseSteps(t *testing.T) {
	steps, err := parseSteps(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, steps)

	steps, err = parseSteps([]string{"3"})
	require.NoError(t, err)
	assert.Equal(t, 3, steps)

	_, err = parseSteps([]string{"0"})
	assert.Error(t, err)
	_, err = parseSteps([]string{"many"})
	assert.Error(t, err)
}

func TestCommandsRequireDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	for _, args := range [][]string{{"up"}, {"down"}, {"force", "1"}, {"version"}} {
		cmd := rootCmd()
		cmd.SetArgs(args)
		cmd.SetOut(&bytes.Buffer{})
		err := cmd.Execute()
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "DATABASE_URL is required")
	}
}

func TestForceRejectsBadVersion(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"force", "latest", "--database-url", "postgres://unused"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid version")
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	src, err := iofs.New(appmigrations.FS, ".")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	_, _, err = src.ReadUp(first)
	require.NoError(t, err)
	_, _, err = src.ReadDown(first)
	require.NoError(t, err)
}
