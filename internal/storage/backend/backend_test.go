package backend

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tap30/beacon-go/internal/storage/memory"
	"github.com/Tap30/beacon-go/internal/storage/sqlite"
)

func TestParse(t *testing.T) {
	tests := []struct {
		conn     string
		wantKind Kind
		wantAddr string
	}{
		{"memory:", KindMemory, ""},
		{"  memory  ", KindMemory, ""},
		{"sqlite:/var/lib/beacon.db", KindSQLite, "/var/lib/beacon.db"},
		{"sqlite::memory:", KindSQLite, ":memory:"},
		{"file:beacon.db?cache=shared", KindSQLite, "file:beacon.db?cache=shared"},
		{"postgres://u:p@localhost/beacon", KindPostgres, "postgres://u:p@localhost/beacon"},
		{"postgresql://localhost/beacon", KindPostgres, "postgresql://localhost/beacon"},
	}
	for _, tt := range tests {
		t.Run(tt.conn, func(t *testing.T) {
			kind, addr, err := Parse(tt.conn)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantAddr, addr)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, _, err := Parse("")
	require.ErrorIs(t, err, ErrNoConnection)

	_, _, err = Parse("sqlite:")
	require.ErrorContains(t, err, "no path")

	_, _, err = Parse("mysql://root:secret@db/beacon")
	require.ErrorContains(t, err, "unsupported")
	assert.NotContains(t, err.Error(), "secret")
}

func TestOpen(t *testing.T) {
	s, kind, err := Open("memory:", Options{})
	require.NoError(t, err)
	assert.Equal(t, KindMemory, kind)
	assert.IsType(t, &memory.Store{}, s)
	require.NoError(t, s.Close())

	s, kind, err = Open("sqlite:"+filepath.Join(t.TempDir(), "beacon.db"), Options{})
	require.NoError(t, err)
	assert.Equal(t, KindSQLite, kind)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Close())

	_, _, err = Open("", Options{})
	require.ErrorIs(t, err, ErrNoConnection)
}
