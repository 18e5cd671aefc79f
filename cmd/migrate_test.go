package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/rank-tracker/internal/config"
)

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	got := migrateURL(&config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "tracker",
		Password: "p@ss:word",
		DBName:   "rank_tracker",
		SSLMode:  "disable",
	})

	assert.Equal(t, "postgres://tracker:p%40ss%3Aword@db:5432/rank_tracker?sslmode=disable", got)
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	t.Parallel()

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "dispatch", "plan", "migrate", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
