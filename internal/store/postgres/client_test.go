package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: " postgres://x "}))

	got := DSN(ClientConfig{Host: "db", User: "bot", Password: "p@ss/word", Database: "smtbot"})
	assert.Equal(t, "postgres://bot:p%40ss%2Fword@db:5432/smtbot?sslmode=disable", got)
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	assert.NoError(t, err)
	assert.NotEmpty(t, names)
	assert.IsNonDecreasing(t, names)
}
