package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
	assert.Equal(t, "SELECT * FROM runs WHERE id = $1", rebind("SELECT * FROM runs WHERE id = ?"))
	assert.Equal(t, "VALUES ($1, $2, $3)", rebind("VALUES (?, ?, ?)"))

	// Every upsert must bind as many PostgreSQL parameters as it has ? markers
	for _, q := range []string{upsertQuoteSQL, upsertCompanySQL, upsertDividendSQL, upsertSplitSQL, saveRunSQL} {
		assert.NotContains(t, rebind(q), "?")
	}
	assert.Contains(t, rebind(upsertCompanySQL), "$11")
	assert.NotContains(t, rebind(upsertCompanySQL), "$12")
}
