package dbutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebindToQuestion(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?",
		RebindToQuestion("SELECT * FROM t WHERE a = $1 AND b = $2"))
	assert.Equal(t, "UPDATE t SET s = ?", StripPgCasts(RebindToQuestion("UPDATE t SET s = $1::varchar")))
}

func TestExcludedToValues(t *testing.T) {
	assert.Equal(t, "name = VALUES(name)", ExcludedToValues("name = EXCLUDED.name"))
	assert.Equal(t, "updated_at = NOW()", ExcludedToValues("updated_at = NOW()"))
}

func TestParseDriverType(t *testing.T) {
	tests := []struct {
		in   string
		want DriverType
	}{
		{"", DriverSQLite},
		{"SQLite", DriverSQLite},
		{"postgresql", DriverPostgres},
		{"mysql", DriverMySQL},
	}
	for _, tt := range tests {
		got, err := ParseDriverType(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseDriverType("mongodb")
	assert.Error(t, err)
}

func TestPlaceholderList(t *testing.T) {
	assert.Equal(t, "$3, $4, $5", PlaceholderList(3, 3))
	assert.Equal(t, "", PlaceholderList(1, 0))
}
